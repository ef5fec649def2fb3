package service

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/haatos/conveyor/internal/material"
	"github.com/haatos/conveyor/internal/metrics"
	"github.com/haatos/conveyor/internal/store"
)

// TimelineEntry is one pipeline run placed on the natural-order timeline.
type TimelineEntry struct {
	ID           int64               `json:"id"`
	PipelineName string              `json:"pipeline_name"`
	Counter      int64               `json:"counter"`
	Label        string              `json:"label"`
	NaturalOrder float64             `json:"natural_order"`
	Cause        material.BuildCause `json:"cause"`
}

type TimelineServicer interface {
	// UpdateOnInit rebuilds every pipeline's timeline from persisted
	// instances. Deterministic: re-running against the same data
	// reproduces identical natural-order values.
	UpdateOnInit(ctx context.Context) error
	Update(ctx context.Context, pipelineName string) error
	EntriesFor(pipelineName string) []*TimelineEntry
	MaximumIDFor(pipelineName string) int64
}

type TimelineService struct {
	instanceStore store.InstanceStore

	// pipelineLocks serializes placement per pipeline name so concurrent
	// inserts cannot pick colliding natural orders.
	pipelineLocks *KeyedMutex[string]

	mu        sync.RWMutex
	timelines map[string]*timeline
}

// timeline keeps one pipeline's placed entries sorted by natural order,
// plus the highest persisted id seen so updates only stream new rows.
type timeline struct {
	entries []*TimelineEntry
	maxID   int64
}

func NewTimelineService(instanceStore store.InstanceStore) *TimelineService {
	return &TimelineService{
		instanceStore: instanceStore,
		pipelineLocks: NewKeyedMutex[string](),
		timelines:     make(map[string]*timeline),
	}
}

func (s *TimelineService) UpdateOnInit(ctx context.Context) error {
	names, err := s.instanceStore.ListPipelineNames(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.timelines = make(map[string]*timeline)
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Update(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Update streams instances persisted since the last update, in ascending id
// order, and places each onto the timeline.
func (s *TimelineService) Update(ctx context.Context, pipelineName string) error {
	s.pipelineLocks.Lock(pipelineName)
	defer s.pipelineLocks.Unlock(pipelineName)

	s.mu.Lock()
	tl, ok := s.timelines[pipelineName]
	if !ok {
		tl = &timeline{}
		s.timelines[pipelineName] = tl
	}
	s.mu.Unlock()

	instances, err := s.instanceStore.ListInstancesAfter(ctx, pipelineName, tl.maxID)
	if err != nil {
		return err
	}
	for _, pi := range instances {
		cause, err := pi.Cause()
		if err != nil {
			return err
		}
		entry := &TimelineEntry{
			ID:           pi.InstanceID,
			PipelineName: pi.PipelineName,
			Counter:      pi.Counter,
			Label:        pi.Label,
			Cause:        cause,
		}
		s.place(tl, entry)
		if err := s.instanceStore.UpdateNaturalOrder(ctx, entry.ID, entry.NaturalOrder); err != nil {
			return err
		}
		s.mu.Lock()
		tl.maxID = pi.InstanceID
		s.mu.Unlock()
		metrics.TimelineInsertsTotal.Inc()
	}
	return nil
}

// place assigns the entry's natural order and inserts it in order. An entry
// following everything placed so far gets the next integral slot; an entry
// that causally precedes an existing one is bisected between its neighbors
// so later runs are never renumbered.
func (s *TimelineService) place(tl *timeline, entry *TimelineEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(tl.entries)
	for i, existing := range tl.entries {
		if causallyBefore(entry, existing) {
			idx = i
			break
		}
	}

	switch {
	case len(tl.entries) == 0:
		entry.NaturalOrder = 1
	case idx == len(tl.entries):
		entry.NaturalOrder = math.Floor(tl.entries[len(tl.entries)-1].NaturalOrder) + 1
	case idx == 0:
		entry.NaturalOrder = tl.entries[0].NaturalOrder / 2
	default:
		entry.NaturalOrder = (tl.entries[idx-1].NaturalOrder + tl.entries[idx].NaturalOrder) / 2
	}
	tl.entries = slices.Insert(tl.entries, idx, entry)
}

// causallyBefore reports whether a precedes b given the modification
// timestamps of their shared materials. Fingerprints are compared in sorted
// order, so the result cannot depend on material configuration order.
func causallyBefore(a, b *TimelineEntry) bool {
	fingerprints := a.Cause.Fingerprints()
	slices.Sort(fingerprints)
	for _, fp := range fingerprints {
		aTime, ok := a.Cause.LatestModifiedOnFor(fp)
		if !ok {
			continue
		}
		bTime, ok := b.Cause.LatestModifiedOnFor(fp)
		if !ok {
			continue
		}
		if aTime.Before(bTime) {
			return true
		}
		if bTime.Before(aTime) {
			return false
		}
	}
	return false
}

func (s *TimelineService) EntriesFor(pipelineName string) []*TimelineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl, ok := s.timelines[pipelineName]
	if !ok {
		return []*TimelineEntry{}
	}
	return slices.Clone(tl.entries)
}

func (s *TimelineService) MaximumIDFor(pipelineName string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl, ok := s.timelines[pipelineName]
	if !ok {
		return 0
	}
	return tl.maxID
}
