package store

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type AgentSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewAgentSQLiteStore(rdb, rwdb *sql.DB) *AgentSQLiteStore {
	return &AgentSQLiteStore{rdb, rwdb}
}

func (store *AgentSQLiteStore) CreateAgent(ctx context.Context, a *Agent) error {
	query := `insert into agents (
		uuid,
		hostname,
		ip_address,
		resources,
		environments,
		elastic_agent_id,
		elastic_plugin_id,
		cookie,
		config_state
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	returning registered_on`
	return sqlscan.Get(
		ctx, store.rwdb, a, query,
		a.UUID,
		a.Hostname,
		a.IPAddress,
		a.Resources,
		a.Environments,
		a.ElasticAgentID,
		a.ElasticPluginID,
		a.Cookie,
		a.ConfigState,
	)
}

func (store *AgentSQLiteStore) ReadAgentByUUID(ctx context.Context, uuid string) (*Agent, error) {
	a := new(Agent)
	query := `select * from agents where uuid = $1 and deleted = 0`
	if err := sqlscan.Get(ctx, store.rdb, a, query, uuid); err != nil {
		return nil, err
	}
	return a, nil
}

func (store *AgentSQLiteStore) ReadAgentByElasticID(
	ctx context.Context,
	pluginID, elasticAgentID string,
) (*Agent, error) {
	a := new(Agent)
	query := `select * from agents
	where elastic_plugin_id = $1 and elastic_agent_id = $2 and deleted = 0`
	if err := sqlscan.Get(ctx, store.rdb, a, query, pluginID, elasticAgentID); err != nil {
		return nil, err
	}
	return a, nil
}

func (store *AgentSQLiteStore) UpdateAgentRegistration(
	ctx context.Context,
	uuid, hostname, ipAddress, cookie string,
) error {
	query := `update agents
	set hostname = $1,
		ip_address = $2,
		cookie = $3
	where uuid = $4`
	_, err := store.rwdb.ExecContext(ctx, query, hostname, ipAddress, cookie, uuid)
	return err
}

func (store *AgentSQLiteStore) UpdateAgentConfigState(
	ctx context.Context,
	uuid string,
	state AgentConfigState,
) error {
	query := `update agents set config_state = $1 where uuid = $2`
	_, err := store.rwdb.ExecContext(ctx, query, state, uuid)
	return err
}

func (store *AgentSQLiteStore) UpdateAgentTags(
	ctx context.Context,
	uuid, resources, environments string,
) error {
	query := `update agents set resources = $1, environments = $2 where uuid = $3`
	_, err := store.rwdb.ExecContext(ctx, query, resources, environments, uuid)
	return err
}

func (store *AgentSQLiteStore) SoftDeleteAgent(ctx context.Context, uuid string) error {
	// agents referenced by job history are never hard-deleted
	query := `update agents set deleted = 1 where uuid = $1`
	_, err := store.rwdb.ExecContext(ctx, query, uuid)
	return err
}

func (store *AgentSQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	query := `select * from agents where deleted = 0 order by uuid`
	agents := make([]*Agent, 0)
	err := sqlscan.Select(ctx, store.rdb, &agents, query)
	return agents, err
}

func (store *AgentSQLiteStore) RecordTokenIssued(ctx context.Context, uuid string) error {
	query := `insert into agent_tokens (uuid) values ($1)`
	_, err := store.rwdb.ExecContext(ctx, query, uuid)
	return err
}

func (store *AgentSQLiteStore) TokenIssued(ctx context.Context, uuid string) (bool, error) {
	var count int64
	query := `select count(*) from agent_tokens where uuid = $1`
	if err := store.rdb.QueryRowContext(ctx, query, uuid).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
