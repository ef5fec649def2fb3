package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haatos/conveyor/internal/security"
	"github.com/haatos/conveyor/internal/store"
)

// RegistrationRequest is the handshake a candidate agent presents.
type RegistrationRequest struct {
	UUID            string
	Hostname        string
	IPAddress       string
	SandboxPath     string
	UsableSpace     int64
	OperatingSystem string
	Resources       string
	Environments    string
	AutoRegisterKey string
	ElasticAgentID  string
	ElasticPluginID string
	Token           string
	// Local is set by the transport when the request originates from the
	// server host itself.
	Local bool
}

type RegistrationOutcome struct {
	Instance *AgentInstance
	// Pending means the handshake succeeded but the agent awaits manual
	// approval.
	Pending bool
	Cookie  string
}

type RegistryServicer interface {
	IssueToken(ctx context.Context, agentUUID string) (string, error)
	RegisterOrRefresh(ctx context.Context, req RegistrationRequest) (*RegistrationOutcome, error)
	Heartbeat(ctx context.Context, info AgentRuntimeInfo) (*AgentInstance, error)
	FindInstance(ctx context.Context, agentUUID string) (*AgentInstance, error)
	ListInstances(ctx context.Context) ([]*AgentInstance, error)
	EnableAgent(ctx context.Context, agentUUID string) error
	DisableAgent(ctx context.Context, agentUUID string) error
	DenyAgent(ctx context.Context, agentUUID string) error
	DeleteAgent(ctx context.Context, agentUUID string) error
	UpdateAgentTags(ctx context.Context, agentUUID, resources, environments string) error
	CancelBuild(ctx context.Context, agentUUID string) error
	StateOf(instance *AgentInstance) AgentState
}

type RegistryService struct {
	agentStore store.AgentStore
	tokens     *security.TokenService

	autoRegisterKey        string
	allowLocalAutoRegister bool
	lostContactAfter       time.Duration
	missingAfter           time.Duration

	// uuidLocks serializes register/heartbeat per agent uuid so two
	// heartbeats for one agent never interleave their writes.
	uuidLocks *KeyedMutex[string]

	mu      sync.RWMutex
	runtime map[string]*agentRuntime

	now func() time.Time
}

type agentRuntime struct {
	info          *AgentRuntimeInfo
	lastHeartbeat time.Time
	cancelled     bool
}

func NewRegistryService(
	agentStore store.AgentStore,
	tokens *security.TokenService,
	autoRegisterKey string,
	allowLocalAutoRegister bool,
	lostContactAfter, missingAfter time.Duration,
) *RegistryService {
	return &RegistryService{
		agentStore:             agentStore,
		tokens:                 tokens,
		autoRegisterKey:        autoRegisterKey,
		allowLocalAutoRegister: allowLocalAutoRegister,
		lostContactAfter:       lostContactAfter,
		missingAfter:           missingAfter,
		uuidLocks:              NewKeyedMutex[string](),
		runtime:                make(map[string]*agentRuntime),
		now:                    func() time.Time { return time.Now().UTC() },
	}
}

// IssueToken hands out the registration token for a uuid exactly once. A
// uuid that already holds a token, or already exists as an agent, conflicts
// so a stolen uuid cannot re-issue its credential.
func (s *RegistryService) IssueToken(ctx context.Context, agentUUID string) (string, error) {
	if agentUUID == "" {
		return "", NewConflictError("uuid cannot be blank")
	}

	s.uuidLocks.Lock(agentUUID)
	defer s.uuidLocks.Unlock(agentUUID)

	issued, err := s.agentStore.TokenIssued(ctx, agentUUID)
	if err != nil {
		return "", err
	}
	if issued {
		return "", NewConflictError(fmt.Sprintf("a token has already been issued for agent %q", agentUUID))
	}
	_, err = s.agentStore.ReadAgentByUUID(ctx, agentUUID)
	if err == nil {
		return "", NewConflictError(fmt.Sprintf("agent %q is already registered", agentUUID))
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if err := s.agentStore.RecordTokenIssued(ctx, agentUUID); err != nil {
		return "", err
	}
	return s.tokens.TokenFor(agentUUID), nil
}

func (s *RegistryService) RegisterOrRefresh(
	ctx context.Context,
	req RegistrationRequest,
) (*RegistrationOutcome, error) {
	if req.UUID == "" {
		return nil, NewValidationError("uuid cannot be blank")
	}
	if req.Hostname == "" {
		return nil, NewValidationError("hostname cannot be blank")
	}
	if (req.ElasticAgentID == "") != (req.ElasticPluginID == "") {
		return nil, NewValidationError("elastic agent id and elastic plugin id must be supplied together")
	}
	if req.ElasticAgentID != "" && (req.Resources != "" || req.Environments != "") {
		return nil, NewValidationError("resources and environments of an elastic agent are plugin-managed")
	}
	if !s.tokens.Verify(req.UUID, req.Token) {
		return nil, NewAuthenticationError("invalid registration token")
	}

	s.uuidLocks.Lock(req.UUID)
	defer s.uuidLocks.Unlock(req.UUID)

	if req.ElasticAgentID != "" {
		bound, err := s.agentStore.ReadAgentByElasticID(ctx, req.ElasticPluginID, req.ElasticAgentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if bound != nil && bound.UUID != req.UUID {
			return nil, NewValidationError(fmt.Sprintf(
				"duplicate elastic agent id %q: already bound to another agent", req.ElasticAgentID))
		}
	}

	existing, err := s.agentStore.ReadAgentByUUID(ctx, req.UUID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		return s.refresh(ctx, existing, req)
	}
	return s.register(ctx, req)
}

// refresh re-issues live connection material for a known agent without
// touching its tags. A pending agent presenting a valid auto-register key
// is promoted to enabled, any other config state is left alone.
func (s *RegistryService) refresh(
	ctx context.Context,
	existing *store.Agent,
	req RegistrationRequest,
) (*RegistrationOutcome, error) {
	if existing.ConfigState == store.ConfigPending && s.autoRegistered(req) {
		if err := s.agentStore.UpdateAgentConfigState(
			ctx, existing.UUID, store.ConfigEnabled,
		); err != nil {
			return nil, err
		}
	}

	cookie := uuid.NewString()
	if err := s.agentStore.UpdateAgentRegistration(
		ctx, existing.UUID, req.Hostname, req.IPAddress, cookie,
	); err != nil {
		return nil, err
	}
	a, err := s.agentStore.ReadAgentByUUID(ctx, existing.UUID)
	if err != nil {
		return nil, err
	}
	return &RegistrationOutcome{
		Instance: s.instanceFor(a),
		Pending:  a.ConfigState == store.ConfigPending,
		Cookie:   cookie,
	}, nil
}

func (s *RegistryService) register(
	ctx context.Context,
	req RegistrationRequest,
) (*RegistrationOutcome, error) {
	state := store.ConfigPending
	if s.autoRegistered(req) {
		state = store.ConfigEnabled
	}

	a := &store.Agent{
		UUID:         req.UUID,
		Hostname:     req.Hostname,
		IPAddress:    req.IPAddress,
		Resources:    req.Resources,
		Environments: req.Environments,
		Cookie:       uuid.NewString(),
		ConfigState:  state,
	}
	if req.ElasticAgentID != "" {
		a.ElasticAgentID = &req.ElasticAgentID
		a.ElasticPluginID = &req.ElasticPluginID
	}
	if err := s.agentStore.CreateAgent(ctx, a); err != nil {
		return nil, err
	}
	return &RegistrationOutcome{
		Instance: s.instanceFor(a),
		Pending:  state == store.ConfigPending,
		Cookie:   a.Cookie,
	}, nil
}

func (s *RegistryService) autoRegistered(req RegistrationRequest) bool {
	if s.autoRegisterKey != "" && req.AutoRegisterKey == s.autoRegisterKey {
		return true
	}
	return req.Local && s.allowLocalAutoRegister
}

// Heartbeat records the latest runtime report for an agent. Heartbeats are
// accepted for disabled agents too, so a denied agent can later be
// re-enabled without re-registering.
func (s *RegistryService) Heartbeat(
	ctx context.Context,
	info AgentRuntimeInfo,
) (*AgentInstance, error) {
	if info.UUID == "" {
		return nil, NewValidationError("uuid cannot be blank")
	}

	s.uuidLocks.Lock(info.UUID)
	defer s.uuidLocks.Unlock(info.UUID)

	a, err := s.agentStore.ReadAgentByUUID(ctx, info.UUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewAuthenticationError(fmt.Sprintf("unknown agent %q", info.UUID))
		}
		return nil, err
	}
	if info.Cookie != a.Cookie {
		return nil, NewAuthenticationError("agent cookie mismatch")
	}

	s.mu.Lock()
	rt, ok := s.runtime[info.UUID]
	if !ok {
		rt = &agentRuntime{}
		s.runtime[info.UUID] = rt
	}
	rt.info = &info
	rt.lastHeartbeat = s.now()
	if info.Status != RuntimeBuilding {
		// cancellation is resolved once the agent reports it stopped building
		rt.cancelled = false
	}
	s.mu.Unlock()

	return s.instanceFor(a), nil
}

func (s *RegistryService) FindInstance(ctx context.Context, agentUUID string) (*AgentInstance, error) {
	a, err := s.agentStore.ReadAgentByUUID(ctx, agentUUID)
	if err != nil {
		return nil, err
	}
	return s.instanceFor(a), nil
}

func (s *RegistryService) ListInstances(ctx context.Context) ([]*AgentInstance, error) {
	agents, err := s.agentStore.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	instances := make([]*AgentInstance, len(agents))
	for i, a := range agents {
		instances[i] = s.instanceFor(a)
	}
	return instances, nil
}

func (s *RegistryService) EnableAgent(ctx context.Context, agentUUID string) error {
	return s.agentStore.UpdateAgentConfigState(ctx, agentUUID, store.ConfigEnabled)
}

func (s *RegistryService) DisableAgent(ctx context.Context, agentUUID string) error {
	return s.agentStore.UpdateAgentConfigState(ctx, agentUUID, store.ConfigDisabled)
}

// DenyAgent rejects a pending agent. The record is kept disabled so a later
// approval does not require a fresh handshake.
func (s *RegistryService) DenyAgent(ctx context.Context, agentUUID string) error {
	return s.agentStore.UpdateAgentConfigState(ctx, agentUUID, store.ConfigDisabled)
}

func (s *RegistryService) DeleteAgent(ctx context.Context, agentUUID string) error {
	return s.agentStore.SoftDeleteAgent(ctx, agentUUID)
}

func (s *RegistryService) UpdateAgentTags(
	ctx context.Context,
	agentUUID, resources, environments string,
) error {
	a, err := s.agentStore.ReadAgentByUUID(ctx, agentUUID)
	if err != nil {
		return err
	}
	if a.IsElastic() {
		return NewValidationError("resources and environments of an elastic agent are plugin-managed")
	}
	return s.agentStore.UpdateAgentTags(ctx, agentUUID, resources, environments)
}

// CancelBuild advises the remote worker to stop its current job. The
// derived state flips to Cancelled until the agent reports completion.
func (s *RegistryService) CancelBuild(ctx context.Context, agentUUID string) error {
	a, err := s.agentStore.ReadAgentByUUID(ctx, agentUUID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtime[a.UUID]
	if !ok || rt.info == nil || rt.info.Status != RuntimeBuilding {
		return NewConflictError(fmt.Sprintf("agent %q is not building", agentUUID))
	}
	rt.cancelled = true
	return nil
}

func (s *RegistryService) StateOf(instance *AgentInstance) AgentState {
	return instance.State(s.now(), s.lostContactAfter, s.missingAfter)
}

func (s *RegistryService) instanceFor(a *store.Agent) *AgentInstance {
	instance := &AgentInstance{Agent: a}
	s.mu.RLock()
	if rt, ok := s.runtime[a.UUID]; ok {
		instance.Runtime = rt.info
		instance.LastHeartbeat = rt.lastHeartbeat
		instance.Cancelled = rt.cancelled
	}
	s.mu.RUnlock()
	return instance
}
