package service

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/haatos/conveyor/internal/security"
	"github.com/haatos/conveyor/internal/store"

	_ "modernc.org/sqlite"
)

const testAutoRegisterKey = "auto-register-key"

func newTestRegistry(t *testing.T) (*RegistryService, *security.TokenService) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	store.RunMigrations(db, "sqlite")

	tokens := security.NewTokenService([]byte("test-secret"))
	registry := NewRegistryService(
		store.NewAgentSQLiteStore(db, db),
		tokens,
		testAutoRegisterKey,
		false,
		2*time.Minute,
		5*time.Minute,
	)
	return registry, tokens
}

func registrationRequest(uuid, token string) RegistrationRequest {
	return RegistrationRequest{
		UUID:            uuid,
		Hostname:        "build-01",
		IPAddress:       "10.0.0.5",
		OperatingSystem: "linux",
		Token:           token,
	}
}

func TestRegistryService_IssueToken(t *testing.T) {
	t.Run("success - token issued once", func(t *testing.T) {
		// arrange
		registry, tokens := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())

		// act
		token, err := registry.IssueToken(context.Background(), uuid)

		// assert
		assert.NoError(t, err)
		assert.True(t, tokens.Verify(uuid, token))
	})
	t.Run("failure - second issuance conflicts", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		_, err := registry.IssueToken(context.Background(), uuid)
		assert.NoError(t, err)

		// act
		_, err = registry.IssueToken(context.Background(), uuid)

		// assert
		assert.ErrorAs(t, err, &ConflictError{})
	})
	t.Run("failure - blank uuid conflicts", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)

		// act
		_, err := registry.IssueToken(context.Background(), "")

		// assert
		assert.ErrorAs(t, err, &ConflictError{})
	})
	t.Run("failure - registered agent cannot re-issue", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		token, err := registry.IssueToken(context.Background(), uuid)
		assert.NoError(t, err)
		_, err = registry.RegisterOrRefresh(context.Background(), registrationRequest(uuid, token))
		assert.NoError(t, err)

		// act
		_, err = registry.IssueToken(context.Background(), uuid)

		// assert
		assert.ErrorAs(t, err, &ConflictError{})
	})
}

func TestRegistryService_RegisterOrRefresh(t *testing.T) {
	t.Run("success - no auto-register key leaves the agent pending", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		token, err := registry.IssueToken(context.Background(), uuid)
		assert.NoError(t, err)

		// act
		outcome, err := registry.RegisterOrRefresh(
			context.Background(), registrationRequest(uuid, token))

		// assert
		assert.NoError(t, err)
		assert.True(t, outcome.Pending)
		assert.Equal(t, StatePending, registry.StateOf(outcome.Instance))
	})
	t.Run("success - valid auto-register key goes straight to idle", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		token, err := registry.IssueToken(context.Background(), uuid)
		assert.NoError(t, err)
		req := registrationRequest(uuid, token)
		req.AutoRegisterKey = testAutoRegisterKey

		// act
		outcome, err := registry.RegisterOrRefresh(context.Background(), req)

		// assert
		assert.NoError(t, err)
		assert.False(t, outcome.Pending)
		assert.Equal(t, StateIdle, registry.StateOf(outcome.Instance))
	})
	t.Run("success - pending agent registered again with key becomes idle", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		token, err := registry.IssueToken(context.Background(), uuid)
		assert.NoError(t, err)
		first, err := registry.RegisterOrRefresh(context.Background(), registrationRequest(uuid, token))
		assert.NoError(t, err)
		assert.True(t, first.Pending)
		req := registrationRequest(uuid, token)
		req.AutoRegisterKey = testAutoRegisterKey

		// act
		outcome, err := registry.RegisterOrRefresh(context.Background(), req)

		// assert
		assert.NoError(t, err)
		assert.False(t, outcome.Pending)
		assert.Equal(t, store.ConfigEnabled, outcome.Instance.Agent.ConfigState)
		assert.Equal(t, StateIdle, registry.StateOf(outcome.Instance))
	})
	t.Run("success - re-registration without key leaves a pending agent pending", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		token, err := registry.IssueToken(context.Background(), uuid)
		assert.NoError(t, err)
		_, err = registry.RegisterOrRefresh(context.Background(), registrationRequest(uuid, token))
		assert.NoError(t, err)

		// act
		outcome, err := registry.RegisterOrRefresh(context.Background(), registrationRequest(uuid, token))

		// assert
		assert.NoError(t, err)
		assert.True(t, outcome.Pending)
		assert.Equal(t, StatePending, registry.StateOf(outcome.Instance))
	})
	t.Run("success - re-registration refreshes without losing tags or state", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		token, err := registry.IssueToken(context.Background(), uuid)
		assert.NoError(t, err)
		req := registrationRequest(uuid, token)
		req.AutoRegisterKey = testAutoRegisterKey
		req.Resources = "linux,docker"
		first, err := registry.RegisterOrRefresh(context.Background(), req)
		assert.NoError(t, err)

		// act
		refresh := registrationRequest(uuid, token)
		refresh.Hostname = "build-01-renamed"
		outcome, err := registry.RegisterOrRefresh(context.Background(), refresh)

		// assert
		assert.NoError(t, err)
		assert.False(t, outcome.Pending)
		assert.Equal(t, "build-01-renamed", outcome.Instance.Agent.Hostname)
		assert.Equal(t, "linux,docker", outcome.Instance.Agent.Resources)
		assert.Equal(t, store.ConfigEnabled, outcome.Instance.Agent.ConfigState)
		assert.NotEqual(t, first.Cookie, outcome.Cookie)
	})
	t.Run("failure - invalid token rejected without creating an agent", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		before, err := registry.ListInstances(context.Background())
		assert.NoError(t, err)

		// act
		_, err = registry.RegisterOrRefresh(
			context.Background(), registrationRequest(uuid, "not-a-valid-token"))
		after, listErr := registry.ListInstances(context.Background())

		// assert
		assert.ErrorAs(t, err, &AuthenticationError{})
		assert.NoError(t, listErr)
		assert.Equal(t, len(before), len(after))
	})
	t.Run("failure - blank uuid rejected", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)

		// act
		_, err := registry.RegisterOrRefresh(
			context.Background(), registrationRequest("", "token"))

		// assert
		assert.ErrorAs(t, err, &ValidationError{})
	})
	t.Run("failure - duplicate elastic agent id rejected", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		firstUUID := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		token, err := registry.IssueToken(context.Background(), firstUUID)
		assert.NoError(t, err)
		req := registrationRequest(firstUUID, token)
		req.ElasticAgentID = "E1"
		req.ElasticPluginID = "cd.go.elastic-agent.docker"
		_, err = registry.RegisterOrRefresh(context.Background(), req)
		assert.NoError(t, err)

		secondUUID := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		secondToken, err := registry.IssueToken(context.Background(), secondUUID)
		assert.NoError(t, err)
		second := registrationRequest(secondUUID, secondToken)
		second.ElasticAgentID = "E1"
		second.ElasticPluginID = "cd.go.elastic-agent.docker"

		// act
		_, err = registry.RegisterOrRefresh(context.Background(), second)

		// assert
		assert.ErrorAs(t, err, &ValidationError{})
		assert.ErrorContains(t, err, "duplicate elastic agent id")
	})
	t.Run("failure - elastic agent cannot register with manual tags", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		token, err := registry.IssueToken(context.Background(), uuid)
		assert.NoError(t, err)
		req := registrationRequest(uuid, token)
		req.ElasticAgentID = "E1"
		req.ElasticPluginID = "cd.go.elastic-agent.docker"
		req.Resources = "linux,docker"
		req.Environments = "prod"

		// act
		_, err = registry.RegisterOrRefresh(context.Background(), req)

		// assert
		assert.ErrorAs(t, err, &ValidationError{})
		assert.ErrorContains(t, err, "plugin-managed")
		_, findErr := registry.FindInstance(context.Background(), uuid)
		assert.ErrorIs(t, findErr, sql.ErrNoRows)
	})
	t.Run("success - auto-register key does not resurrect a denied agent", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		token, err := registry.IssueToken(context.Background(), uuid)
		assert.NoError(t, err)
		_, err = registry.RegisterOrRefresh(context.Background(), registrationRequest(uuid, token))
		assert.NoError(t, err)
		assert.NoError(t, registry.DenyAgent(context.Background(), uuid))
		req := registrationRequest(uuid, token)
		req.AutoRegisterKey = testAutoRegisterKey

		// act
		outcome, err := registry.RegisterOrRefresh(context.Background(), req)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, store.ConfigDisabled, outcome.Instance.Agent.ConfigState)
		assert.Equal(t, StateDisabled, registry.StateOf(outcome.Instance))
	})
}

func TestRegistryService_Heartbeat(t *testing.T) {
	t.Run("success - heartbeat flips a never-seen agent to idle", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		outcome := registerIdleAgent(t, registry)

		// act
		instance, err := registry.Heartbeat(context.Background(), AgentRuntimeInfo{
			UUID:   outcome.Instance.Agent.UUID,
			Cookie: outcome.Cookie,
			Status: RuntimeIdle,
		})

		// assert
		assert.NoError(t, err)
		assert.Equal(t, StateIdle, registry.StateOf(instance))
		assert.False(t, instance.LastHeartbeat.IsZero())
	})
	t.Run("success - building heartbeat carries the build locator", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		outcome := registerIdleAgent(t, registry)

		// act
		instance, err := registry.Heartbeat(context.Background(), AgentRuntimeInfo{
			UUID:   outcome.Instance.Agent.UUID,
			Cookie: outcome.Cookie,
			Status: RuntimeBuilding,
			Build:  &BuildLocator{Pipeline: "app", Stage: "dist", Job: "compile"},
		})

		// assert
		assert.NoError(t, err)
		assert.Equal(t, StateBuilding, registry.StateOf(instance))
		assert.Equal(t, "compile", instance.Runtime.Build.Job)
	})
	t.Run("failure - cookie mismatch rejected", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		outcome := registerIdleAgent(t, registry)

		// act
		_, err := registry.Heartbeat(context.Background(), AgentRuntimeInfo{
			UUID:   outcome.Instance.Agent.UUID,
			Cookie: "stolen-cookie",
			Status: RuntimeIdle,
		})

		// assert
		assert.ErrorAs(t, err, &AuthenticationError{})
	})
	t.Run("failure - unknown uuid rejected", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)

		// act
		_, err := registry.Heartbeat(context.Background(), AgentRuntimeInfo{
			UUID:   "never-registered",
			Cookie: "cookie",
			Status: RuntimeIdle,
		})

		// assert
		assert.ErrorAs(t, err, &AuthenticationError{})
	})
}

func TestRegistryService_CancelBuild(t *testing.T) {
	t.Run("success - cancelled build reverts to idle on completion", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		outcome := registerIdleAgent(t, registry)
		uuid := outcome.Instance.Agent.UUID
		_, err := registry.Heartbeat(context.Background(), AgentRuntimeInfo{
			UUID:   uuid,
			Cookie: outcome.Cookie,
			Status: RuntimeBuilding,
			Build:  &BuildLocator{Pipeline: "app", Stage: "dist", Job: "compile"},
		})
		assert.NoError(t, err)

		// act
		cancelErr := registry.CancelBuild(context.Background(), uuid)
		cancelled, findErr := registry.FindInstance(context.Background(), uuid)
		idle, hbErr := registry.Heartbeat(context.Background(), AgentRuntimeInfo{
			UUID:   uuid,
			Cookie: outcome.Cookie,
			Status: RuntimeIdle,
		})

		// assert
		assert.NoError(t, cancelErr)
		assert.NoError(t, findErr)
		assert.Equal(t, StateCancelled, registry.StateOf(cancelled))
		assert.NoError(t, hbErr)
		assert.Equal(t, StateIdle, registry.StateOf(idle))
	})
	t.Run("failure - cancelling an idle agent conflicts", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		outcome := registerIdleAgent(t, registry)

		// act
		err := registry.CancelBuild(context.Background(), outcome.Instance.Agent.UUID)

		// assert
		assert.ErrorAs(t, err, &ConflictError{})
	})
}

func TestRegistryService_DerivedLiveness(t *testing.T) {
	t.Run("success - overdue heartbeat derives lost contact", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		outcome := registerIdleAgent(t, registry)
		instance, err := registry.Heartbeat(context.Background(), AgentRuntimeInfo{
			UUID:   outcome.Instance.Agent.UUID,
			Cookie: outcome.Cookie,
			Status: RuntimeIdle,
		})
		assert.NoError(t, err)

		// act
		state := instance.State(
			time.Now().UTC().Add(3*time.Minute), 2*time.Minute, 5*time.Minute)

		// assert
		assert.Equal(t, StateLostContact, state)
	})
	t.Run("success - never-heartbeating agent derives missing after grace", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		outcome := registerIdleAgent(t, registry)

		// act
		withinGrace := outcome.Instance.State(
			time.Now().UTC().Add(time.Minute), 2*time.Minute, 5*time.Minute)
		pastGrace := outcome.Instance.State(
			time.Now().UTC().Add(10*time.Minute), 2*time.Minute, 5*time.Minute)

		// assert
		assert.Equal(t, StateIdle, withinGrace)
		assert.Equal(t, StateMissing, pastGrace)
	})
	t.Run("success - disabled agent stays disabled regardless of heartbeats", func(t *testing.T) {
		// arrange
		registry, _ := newTestRegistry(t)
		outcome := registerIdleAgent(t, registry)
		uuid := outcome.Instance.Agent.UUID
		assert.NoError(t, registry.DisableAgent(context.Background(), uuid))

		// act
		instance, err := registry.Heartbeat(context.Background(), AgentRuntimeInfo{
			UUID:   uuid,
			Cookie: outcome.Cookie,
			Status: RuntimeIdle,
		})

		// assert
		assert.NoError(t, err)
		assert.Equal(t, StateDisabled, registry.StateOf(instance))
	})
}

func registerIdleAgent(t *testing.T, registry *RegistryService) *RegistrationOutcome {
	t.Helper()
	uuid := fmt.Sprintf("agent-%d", time.Now().UnixNano())
	token, err := registry.IssueToken(context.Background(), uuid)
	assert.NoError(t, err)
	req := registrationRequest(uuid, token)
	req.AutoRegisterKey = testAutoRegisterKey
	outcome, err := registry.RegisterOrRefresh(context.Background(), req)
	assert.NoError(t, err)
	return outcome
}
