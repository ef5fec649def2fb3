package service

import (
	"time"

	"github.com/haatos/conveyor/internal/store"
)

type AgentState string

const (
	StatePending     AgentState = "pending"
	StateIdle        AgentState = "idle"
	StateBuilding    AgentState = "building"
	StateDisabled    AgentState = "disabled"
	StateLostContact AgentState = "lost_contact"
	StateMissing     AgentState = "missing"
	StateCancelled   AgentState = "cancelled"
)

type RuntimeStatus string

const (
	RuntimeIdle     RuntimeStatus = "idle"
	RuntimeBuilding RuntimeStatus = "building"
	RuntimeUnknown  RuntimeStatus = "unknown"
)

// BuildLocator identifies the job a building agent is working on.
type BuildLocator struct {
	Pipeline string `json:"pipeline"`
	Stage    string `json:"stage"`
	Job      string `json:"job"`
}

// AgentRuntimeInfo is one heartbeat report. Superseded by the next
// heartbeat, never persisted verbatim.
type AgentRuntimeInfo struct {
	UUID            string        `json:"uuid"`
	Cookie          string        `json:"cookie"`
	Status          RuntimeStatus `json:"status"`
	UsableSpace     int64         `json:"usable_space"`
	OperatingSystem string        `json:"operating_system"`
	Build           *BuildLocator `json:"build,omitempty"`
}

// AgentInstance joins a persisted agent with its latest runtime report. The
// lifecycle state is always derived on read, never stored, so it cannot
// drift from its inputs.
type AgentInstance struct {
	Agent         *store.Agent
	Runtime       *AgentRuntimeInfo
	LastHeartbeat time.Time
	Cancelled     bool
}

// State derives the lifecycle state from config state, the latest runtime
// report and heartbeat age. An enabled agent that has never heartbeated is
// Idle until the grace period runs out, then Missing. A stale heartbeat
// turns an enabled agent into LostContact until the agent self-heals.
func (ai *AgentInstance) State(now time.Time, lostContactAfter, missingAfter time.Duration) AgentState {
	switch ai.Agent.ConfigState {
	case store.ConfigPending:
		return StatePending
	case store.ConfigDisabled:
		return StateDisabled
	}

	if ai.Runtime == nil {
		if now.Sub(ai.Agent.RegisteredOn) > missingAfter {
			return StateMissing
		}
		return StateIdle
	}
	if now.Sub(ai.LastHeartbeat) > lostContactAfter {
		return StateLostContact
	}
	if ai.Runtime.Status == RuntimeBuilding {
		if ai.Cancelled {
			return StateCancelled
		}
		return StateBuilding
	}
	return StateIdle
}
