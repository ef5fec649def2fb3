package service

import (
	"context"
	"log"

	"github.com/haatos/conveyor/internal/metrics"
)

// AgentMonitor periodically derives the state of every registered agent and
// exports the per-state counts. LostContact and Missing are pure functions
// of heartbeat age, so the monitor only has to look, never to mutate.
type AgentMonitor struct {
	registry RegistryServicer
}

func NewAgentMonitor(registry RegistryServicer) *AgentMonitor {
	return &AgentMonitor{registry: registry}
}

var allAgentStates = []AgentState{
	StatePending,
	StateIdle,
	StateBuilding,
	StateDisabled,
	StateLostContact,
	StateMissing,
	StateCancelled,
}

func (am *AgentMonitor) Check(ctx context.Context) {
	instances, err := am.registry.ListInstances(ctx)
	if err != nil {
		log.Println("err listing agents for liveness check:", err)
		return
	}

	counts := make(map[AgentState]int)
	for _, instance := range instances {
		state := am.registry.StateOf(instance)
		counts[state]++
		if state == StateLostContact || state == StateMissing {
			log.Printf("agent %s (%s) is %s\n", instance.Agent.UUID, instance.Agent.Hostname, state)
		}
	}
	for _, state := range allAgentStates {
		metrics.AgentsByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
