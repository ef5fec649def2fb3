package store

import (
	"context"
	"strings"
	"time"
)

type AgentConfigState string

const (
	// ConfigPending: registered without an auto-register key, awaiting
	// manual approval.
	ConfigPending AgentConfigState = "pending"
	ConfigEnabled AgentConfigState = "enabled"
	// ConfigDisabled: admin denied. Heartbeats are still accepted so the
	// agent can be re-enabled later.
	ConfigDisabled AgentConfigState = "disabled"
)

type Agent struct {
	UUID            string
	Hostname        string
	IPAddress       string
	Resources       string
	Environments    string
	ElasticAgentID  *string
	ElasticPluginID *string
	Cookie          string
	ConfigState     AgentConfigState
	Deleted         bool
	RegisteredOn    time.Time
}

func (a *Agent) IsElastic() bool {
	return a.ElasticAgentID != nil && *a.ElasticAgentID != ""
}

func (a *Agent) ResourceList() []string {
	return splitCSV(a.Resources)
}

func (a *Agent) EnvironmentList() []string {
	return splitCSV(a.Environments)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type AgentStore interface {
	CreateAgent(context.Context, *Agent) error
	ReadAgentByUUID(context.Context, string) (*Agent, error)
	ReadAgentByElasticID(ctx context.Context, pluginID, elasticAgentID string) (*Agent, error)
	UpdateAgentRegistration(ctx context.Context, uuid, hostname, ipAddress, cookie string) error
	UpdateAgentConfigState(ctx context.Context, uuid string, state AgentConfigState) error
	UpdateAgentTags(ctx context.Context, uuid, resources, environments string) error
	SoftDeleteAgent(context.Context, string) error
	ListAgents(context.Context) ([]*Agent, error)

	RecordTokenIssued(context.Context, string) error
	TokenIssued(context.Context, string) (bool, error)
}
