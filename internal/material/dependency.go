package material

import (
	"fmt"
	"strconv"
	"strings"
)

// Dependency is an upstream pipeline stage. It has no checkout; new
// modifications are the upstream stage's newly passed runs, one modification
// per run, with the stage locator as the revision.
type Dependency struct {
	Pipeline string
	Stage    string
}

func (d Dependency) Type() Type { return TypeDependency }

func (d Dependency) Attributes() map[string]string {
	return map[string]string{
		"pipeline": d.Pipeline,
		"stage":    d.Stage,
	}
}

func (d Dependency) Fingerprint() string {
	return fingerprintOf(TypeDependency, d.Attributes())
}

func (d Dependency) Describe() string {
	return fmt.Sprintf("upstream stage %s/%s", d.Pipeline, d.Stage)
}

// StageLocator is the revision token for one passed upstream run, e.g.
// "upstream/11/stage/0".
func (d Dependency) StageLocator(pipelineCounter, stageCounter int64) string {
	return fmt.Sprintf("%s/%d/%s/%d", d.Pipeline, pipelineCounter, d.Stage, stageCounter)
}

// ParseStageLocator splits a stage locator back into its counters.
func ParseStageLocator(locator string) (pipelineCounter, stageCounter int64, err error) {
	parts := strings.Split(locator, "/")
	if len(parts) != 4 {
		return 0, 0, fmt.Errorf("malformed stage locator %q", locator)
	}
	pipelineCounter, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed stage locator %q: %w", locator, err)
	}
	stageCounter, err = strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed stage locator %q: %w", locator, err)
	}
	return pipelineCounter, stageCounter, nil
}
