package material

import "time"

type FileAction string

const (
	FileAdded    FileAction = "added"
	FileModified FileAction = "modified"
	FileDeleted  FileAction = "deleted"
)

type ModifiedFile struct {
	Path   string     `json:"path"`
	Action FileAction `json:"action"`
}

// Modification is one discovered change in a material. The revision token is
// opaque and material specific: a commit hash for git, a changelist number
// for perforce, a stage locator for dependency materials.
type Modification struct {
	Revision      string         `json:"revision"`
	Author        string         `json:"author,omitempty"`
	Comment       string         `json:"comment,omitempty"`
	PipelineLabel string         `json:"pipeline_label,omitempty"`
	ModifiedOn    time.Time      `json:"modified_on"`
	Files         []ModifiedFile `json:"files,omitempty"`
}
