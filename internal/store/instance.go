package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haatos/conveyor/internal/material"
)

type StageResult string

const (
	StagePassed    StageResult = "passed"
	StageFailed    StageResult = "failed"
	StageCancelled StageResult = "cancelled"
)

// PipelineInstance is one persisted run of a pipeline. The build cause is
// stored as a JSON snapshot and never changes after creation; the natural
// order is recomputed by the timeline engine.
type PipelineInstance struct {
	InstanceID   int64
	PipelineName string
	Counter      int64
	Label        string
	NaturalOrder float64
	BuildCause   string
	CreatedOn    time.Time
}

func (pi *PipelineInstance) Cause() (material.BuildCause, error) {
	var bc material.BuildCause
	err := json.Unmarshal([]byte(pi.BuildCause), &bc)
	return bc, err
}

// StageRun is one completed run of one stage, consumed by dependency
// material polling.
type StageRun struct {
	StageRunID      int64
	PipelineName    string
	PipelineCounter int64
	StageName       string
	StageCounter    int64
	Result          StageResult
	Label           string
	CompletedOn     time.Time
}

type InstanceStore interface {
	CreateInstance(
		ctx context.Context,
		pipelineName, label string,
		cause material.BuildCause,
	) (*PipelineInstance, error)
	// ListInstancesAfter streams instances in ascending persisted-id order,
	// strictly after the given id.
	ListInstancesAfter(ctx context.Context, pipelineName string, afterID int64) ([]*PipelineInstance, error)
	ListPipelineNames(context.Context) ([]string, error)
	UpdateNaturalOrder(ctx context.Context, instanceID int64, naturalOrder float64) error
	MaxInstanceID(ctx context.Context, pipelineName string) (int64, error)

	RecordStageRun(context.Context, *StageRun) error
	// ListPassedStageRuns pages through passed stage runs strictly after the
	// given (pipelineCounter, stageCounter) cursor, oldest first.
	ListPassedStageRuns(
		ctx context.Context,
		pipelineName, stageName string,
		afterPipelineCounter, afterStageCounter, limit int64,
	) ([]StageRun, error)
}
