package material

import (
	"errors"
	"time"
)

// Revision is the set of modifications of one material a pipeline run used,
// newest first.
type Revision struct {
	Material      Material
	Modifications []Modification
}

func (r Revision) Latest() Modification {
	return r.Modifications[0]
}

func (r Revision) LatestModifiedOn() time.Time {
	var latest time.Time
	for _, m := range r.Modifications {
		if m.ModifiedOn.After(latest) {
			latest = m.ModifiedOn
		}
	}
	return latest
}

type Revisions []Revision

func (rs Revisions) FindByFingerprint(fingerprint string) (Revision, bool) {
	for _, r := range rs {
		if r.Material.Fingerprint() == fingerprint {
			return r, true
		}
	}
	return Revision{}, false
}

// CauseRevision is the persisted form of a Revision inside a build cause.
// The material is flattened to its fingerprint and description so the
// snapshot stays stable even if the configuration object changes later.
type CauseRevision struct {
	Fingerprint   string         `json:"fingerprint"`
	MaterialType  Type           `json:"material_type"`
	Description   string         `json:"description"`
	Modifications []Modification `json:"modifications"`
}

func (cr CauseRevision) LatestModifiedOn() time.Time {
	var latest time.Time
	for _, m := range cr.Modifications {
		if m.ModifiedOn.After(latest) {
			latest = m.ModifiedOn
		}
	}
	return latest
}

// BuildCause is the immutable snapshot of material revisions that justified
// creating one pipeline instance.
type BuildCause struct {
	TriggeredBy string          `json:"triggered_by"`
	Revisions   []CauseRevision `json:"revisions"`
}

var ErrEmptyBuildCause = errors.New("a build cause requires at least one material revision")

func NewBuildCause(triggeredBy string, revisions Revisions) (BuildCause, error) {
	if len(revisions) == 0 {
		return BuildCause{}, ErrEmptyBuildCause
	}
	bc := BuildCause{TriggeredBy: triggeredBy}
	for _, r := range revisions {
		if len(r.Modifications) == 0 {
			return BuildCause{}, ErrEmptyBuildCause
		}
		bc.Revisions = append(bc.Revisions, CauseRevision{
			Fingerprint:   r.Material.Fingerprint(),
			MaterialType:  r.Material.Type(),
			Description:   r.Material.Describe(),
			Modifications: r.Modifications,
		})
	}
	return bc, nil
}

// LatestModifiedOnFor returns the newest modification timestamp of the given
// material within this cause, and whether the material took part at all.
func (bc BuildCause) LatestModifiedOnFor(fingerprint string) (time.Time, bool) {
	for _, cr := range bc.Revisions {
		if cr.Fingerprint == fingerprint {
			return cr.LatestModifiedOn(), true
		}
	}
	return time.Time{}, false
}

// Fingerprints returns the fingerprints of all materials in the cause,
// in snapshot order.
func (bc BuildCause) Fingerprints() []string {
	fps := make([]string, len(bc.Revisions))
	for i, cr := range bc.Revisions {
		fps[i] = cr.Fingerprint
	}
	return fps
}
