package service

import (
	"sync"
	"time"
)

// MaterialHealth is one scoped error state: a material whose polls keep
// failing. The last-known-good revisions stay visible while the error is
// surfaced out-of-band.
type MaterialHealth struct {
	Fingerprint string    `json:"fingerprint"`
	Message     string    `json:"message"`
	Since       time.Time `json:"since"`
}

// HealthService records transient poll errors per material fingerprint.
// An error is re-surfaced on every poll until the condition clears.
type HealthService struct {
	mu     sync.RWMutex
	errors map[string]MaterialHealth
}

func NewHealthService() *HealthService {
	return &HealthService{errors: make(map[string]MaterialHealth)}
}

func (s *HealthService) Record(fingerprint string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.errors[fingerprint]; ok {
		existing.Message = err.Error()
		s.errors[fingerprint] = existing
		return
	}
	s.errors[fingerprint] = MaterialHealth{
		Fingerprint: fingerprint,
		Message:     err.Error(),
		Since:       time.Now().UTC(),
	}
}

func (s *HealthService) Clear(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errors, fingerprint)
}

func (s *HealthService) ErrorFor(fingerprint string) (MaterialHealth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mh, ok := s.errors[fingerprint]
	return mh, ok
}

func (s *HealthService) ListErrors() []MaterialHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MaterialHealth, 0, len(s.errors))
	for _, mh := range s.errors {
		out = append(out, mh)
	}
	return out
}
