package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/haatos/conveyor/internal/material"
	"github.com/haatos/conveyor/internal/metrics"
	"github.com/haatos/conveyor/internal/scm"
	"github.com/haatos/conveyor/internal/security"
	"github.com/haatos/conveyor/internal/store"
)

type MaterialUpdateServicer interface {
	// UpdateMaterial blocks until this call's check-and-persist completes or
	// fails. Concurrent callers for an equal fingerprint join the in-flight
	// update and observe its result.
	UpdateMaterial(ctx context.Context, m material.Material) error
	IsInProgress(m material.Material) bool
	// LatestRevisions returns the newest known revision of each material,
	// for build-cause construction.
	LatestRevisions(ctx context.Context, materials []material.Material) (material.Revisions, error)
	PollKnownMaterials(ctx context.Context)
}

// PollerFactory resolves the poller for a checkout-based material.
// Satisfied by scm.Factory.
type PollerFactory interface {
	ForMaterial(m material.Material) (scm.Poller, error)
}

type MaterialUpdateService struct {
	materialStore store.MaterialStore
	instanceStore store.InstanceStore
	pollers       PollerFactory
	flyweights    *Flyweights
	health        *HealthService
	encrypter     security.Encrypter
	pageSize      int64

	mu       sync.Mutex
	inFlight map[string]*updateSlot
}

// updateSlot is the in-flight update for one fingerprint. Joiners wait on
// done and share err; the persistence transaction runs exactly once.
type updateSlot struct {
	done chan struct{}
	err  error
}

func NewMaterialUpdateService(
	materialStore store.MaterialStore,
	instanceStore store.InstanceStore,
	pollers PollerFactory,
	flyweights *Flyweights,
	health *HealthService,
	encrypter security.Encrypter,
	pageSize int64,
) *MaterialUpdateService {
	// a non-positive page size would never terminate the dependency
	// paging loop
	if pageSize < 1 {
		pageSize = 1
	}
	return &MaterialUpdateService{
		materialStore: materialStore,
		instanceStore: instanceStore,
		pollers:       pollers,
		flyweights:    flyweights,
		health:        health,
		encrypter:     encrypter,
		pageSize:      pageSize,
		inFlight:      make(map[string]*updateSlot),
	}
}

func (s *MaterialUpdateService) IsInProgress(m material.Material) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[m.Fingerprint()]
	return ok
}

func (s *MaterialUpdateService) UpdateMaterial(ctx context.Context, m material.Material) error {
	fingerprint := m.Fingerprint()

	s.mu.Lock()
	if slot, ok := s.inFlight[fingerprint]; ok {
		s.mu.Unlock()
		select {
		case <-slot.done:
			return slot.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	slot := &updateSlot{done: make(chan struct{})}
	s.inFlight[fingerprint] = slot
	s.mu.Unlock()

	started := time.Now()
	slot.err = s.update(ctx, m)
	metrics.MaterialUpdateSeconds.Observe(time.Since(started).Seconds())
	if slot.err != nil {
		metrics.MaterialUpdatesTotal.WithLabelValues("failure").Inc()
	} else {
		metrics.MaterialUpdatesTotal.WithLabelValues("success").Inc()
	}

	s.mu.Lock()
	delete(s.inFlight, fingerprint)
	s.mu.Unlock()
	close(slot.done)

	return slot.err
}

func (s *MaterialUpdateService) update(ctx context.Context, m material.Material) error {
	fingerprint := m.Fingerprint()

	if _, err := s.registerMaterial(ctx, m); err != nil {
		return err
	}

	var err error
	if dep, ok := m.(material.Dependency); ok {
		err = s.updateDependency(ctx, dep)
	} else {
		err = s.updateCheckout(ctx, m)
	}
	if err != nil {
		s.health.Record(fingerprint, err)
		return err
	}
	s.health.Clear(fingerprint)
	return nil
}

// registerMaterial resolves the material row, creating it on first contact
// and keeping the encrypted credential blob current.
func (s *MaterialUpdateService) registerMaterial(
	ctx context.Context,
	m material.Material,
) (*store.Material, error) {
	attrs, err := json.Marshal(m.Attributes())
	if err != nil {
		return nil, err
	}
	row, err := s.materialStore.FindOrCreateMaterial(
		ctx, m.Fingerprint(), string(m.Type()), string(attrs), m.Describe())
	if err != nil {
		if errors.Is(err, store.ErrFingerprintCollision) {
			return nil, NewIntegrityError(err.Error())
		}
		return nil, err
	}

	credentials, err := s.encryptedCredentials(m)
	if err != nil {
		return nil, err
	}
	if credentials != nil {
		if err := s.materialStore.UpdateMaterialCredentials(
			ctx, m.Fingerprint(), credentials,
		); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (s *MaterialUpdateService) updateCheckout(ctx context.Context, m material.Material) error {
	fingerprint := m.Fingerprint()

	poller, err := s.pollers.ForMaterial(m)
	if err != nil {
		return NewValidationError(err.Error())
	}
	dir, err := s.flyweights.DirFor(fingerprint)
	if err != nil {
		return NewTransientError(fingerprint, err)
	}

	var discoveries []scm.Discovery
	latest, err := s.materialStore.LatestModification(ctx, fingerprint)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		discoveries, err = poller.Latest(ctx, dir)
	case err != nil:
		return err
	default:
		discoveries, err = poller.Since(ctx, dir, latest.Revision)
	}
	if err != nil {
		// a failed update must not leave a stale checkout behind
		if removeErr := s.flyweights.Remove(fingerprint); removeErr != nil {
			log.Println("err removing flyweight after failed update:", removeErr)
		}
		return NewTransientError(fingerprint, err)
	}

	for _, d := range discoveries {
		if err := s.persistDiscovery(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// persistDiscovery saves one poller result, attributed to the discovered
// material's own fingerprint. Submodule and externals discoveries register
// their sub-material here on first sight.
func (s *MaterialUpdateService) persistDiscovery(ctx context.Context, d scm.Discovery) error {
	if len(d.Modifications) == 0 {
		return nil
	}
	fingerprint := d.Material.Fingerprint()

	if _, err := s.registerMaterial(ctx, d.Material); err != nil {
		return err
	}

	latest, err := s.materialStore.LatestModification(ctx, fingerprint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if latest != nil && latest.Revision == d.Modifications[0].Revision {
		// idempotent poll, nothing new
		return nil
	}

	count, err := s.materialStore.SaveModifications(ctx, fingerprint, d.Modifications)
	if err != nil {
		return err
	}
	metrics.ModificationsDiscoveredTotal.Add(float64(count))
	return nil
}

// updateDependency pages through the upstream stage's passed runs strictly
// after the last known stage locator. No filesystem checkout is involved.
// The first poll backfills all historic passed runs.
func (s *MaterialUpdateService) updateDependency(ctx context.Context, dep material.Dependency) error {
	fingerprint := dep.Fingerprint()

	var afterPipeline, afterStage int64
	latest, err := s.materialStore.LatestModification(ctx, fingerprint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if latest != nil {
		afterPipeline, afterStage, err = material.ParseStageLocator(latest.Revision)
		if err != nil {
			return NewIntegrityError(fmt.Sprintf(
				"material %s has a malformed latest revision %q", fingerprint, latest.Revision))
		}
	}

	mods := make([]material.Modification, 0)
	for {
		runs, err := s.instanceStore.ListPassedStageRuns(
			ctx, dep.Pipeline, dep.Stage, afterPipeline, afterStage, s.pageSize)
		if err != nil {
			return err
		}
		for _, run := range runs {
			mods = append(mods, material.Modification{
				Revision:      dep.StageLocator(run.PipelineCounter, run.StageCounter),
				Comment:       fmt.Sprintf("%s passed", dep.Describe()),
				PipelineLabel: run.Label,
				ModifiedOn:    run.CompletedOn,
			})
			afterPipeline = run.PipelineCounter
			afterStage = run.StageCounter
		}
		if int64(len(runs)) < s.pageSize {
			break
		}
	}
	if len(mods) == 0 {
		return nil
	}

	// SaveModifications expects newest first
	for i, j := 0, len(mods)-1; i < j; i, j = i+1, j-1 {
		mods[i], mods[j] = mods[j], mods[i]
	}
	count, err := s.materialStore.SaveModifications(ctx, fingerprint, mods)
	if err != nil {
		return err
	}
	metrics.ModificationsDiscoveredTotal.Add(float64(count))
	return nil
}

func (s *MaterialUpdateService) LatestRevisions(
	ctx context.Context,
	materials []material.Material,
) (material.Revisions, error) {
	revisions := make(material.Revisions, 0, len(materials))
	for _, m := range materials {
		latest, err := s.materialStore.LatestModification(ctx, m.Fingerprint())
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}
		revisions = append(revisions, material.Revision{
			Material:      m,
			Modifications: []material.Modification{latest.AsValue()},
		})
	}
	return revisions, nil
}

// PollKnownMaterials runs one update round over every registered material.
// Driven by the gocron scheduler; errors are recorded per fingerprint and
// never stop the round.
func (s *MaterialUpdateService) PollKnownMaterials(ctx context.Context) {
	rows, err := s.materialStore.ListMaterials(ctx)
	if err != nil {
		log.Println("err listing materials for poll round:", err)
		return
	}

	var wg sync.WaitGroup
	for _, row := range rows {
		m, err := s.hydrate(row)
		if err != nil {
			s.health.Record(row.Fingerprint, err)
			continue
		}
		wg.Go(func() {
			if err := s.UpdateMaterial(ctx, m); err != nil {
				log.Printf("err updating material %s: %+v\n", row.Fingerprint, err)
			}
		})
	}
	wg.Wait()
}

func (s *MaterialUpdateService) hydrate(row *store.Material) (material.Material, error) {
	var attrs map[string]string
	if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
		return nil, err
	}
	var username, password string
	if row.Credentials != nil {
		var err error
		username, password, err = s.decryptCredentials(*row.Credentials)
		if err != nil {
			return nil, err
		}
	}
	return material.FromAttributes(material.Type(row.MaterialType), attrs, username, password)
}

type materialCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *MaterialUpdateService) encryptedCredentials(m material.Material) (*string, error) {
	var creds materialCredentials
	switch m := m.(type) {
	case material.Git:
		creds = materialCredentials{Username: m.Username, Password: m.Password}
	case material.Subversion:
		creds = materialCredentials{Username: m.Username, Password: m.Password}
	case material.Perforce:
		creds = materialCredentials{Username: m.Username, Password: m.Password}
	default:
		return nil, nil
	}
	if creds.Password == "" {
		return nil, nil
	}
	b, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	encrypted := s.encrypter.EncryptAES(string(b))
	return &encrypted, nil
}

func (s *MaterialUpdateService) decryptCredentials(blob string) (string, string, error) {
	var creds materialCredentials
	b, err := s.encrypter.DecryptAES(blob)
	if err != nil {
		return "", "", err
	}
	if err := json.Unmarshal(b, &creds); err != nil {
		return "", "", err
	}
	return creds.Username, creds.Password, nil
}
