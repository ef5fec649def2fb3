package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/conveyor/internal/material"
)

type InstanceSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewInstanceSQLiteStore(rdb, rwdb *sql.DB) *InstanceSQLiteStore {
	return &InstanceSQLiteStore{rdb, rwdb}
}

func (store *InstanceSQLiteStore) CreateInstance(
	ctx context.Context,
	pipelineName, label string,
	cause material.BuildCause,
) (*PipelineInstance, error) {
	causeJSON, err := json.Marshal(cause)
	if err != nil {
		return nil, err
	}

	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var counter int64
	if err := tx.QueryRowContext(
		ctx,
		`select coalesce(max(counter), 0) + 1 from pipeline_instances where pipeline_name = $1`,
		pipelineName,
	).Scan(&counter); err != nil {
		return nil, err
	}

	pi := &PipelineInstance{
		PipelineName: pipelineName,
		Counter:      counter,
		Label:        label,
		BuildCause:   string(causeJSON),
	}
	if err := tx.QueryRowContext(
		ctx,
		`insert into pipeline_instances (pipeline_name, counter, label, build_cause)
		values ($1, $2, $3, $4)
		returning instance_id, created_on`,
		pi.PipelineName,
		pi.Counter,
		pi.Label,
		pi.BuildCause,
	).Scan(&pi.InstanceID, &pi.CreatedOn); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pi, nil
}

func (store *InstanceSQLiteStore) ListInstancesAfter(
	ctx context.Context,
	pipelineName string,
	afterID int64,
) ([]*PipelineInstance, error) {
	query := `select * from pipeline_instances
	where pipeline_name = $1 and instance_id > $2
	order by instance_id`
	instances := make([]*PipelineInstance, 0)
	err := sqlscan.Select(ctx, store.rdb, &instances, query, pipelineName, afterID)
	return instances, err
}

func (store *InstanceSQLiteStore) ListPipelineNames(ctx context.Context) ([]string, error) {
	rows, err := store.rdb.QueryContext(
		ctx,
		`select distinct pipeline_name from pipeline_instances order by pipeline_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (store *InstanceSQLiteStore) UpdateNaturalOrder(
	ctx context.Context,
	instanceID int64,
	naturalOrder float64,
) error {
	query := `update pipeline_instances set natural_order = $1 where instance_id = $2`
	_, err := store.rwdb.ExecContext(ctx, query, naturalOrder, instanceID)
	return err
}

func (store *InstanceSQLiteStore) MaxInstanceID(
	ctx context.Context,
	pipelineName string,
) (int64, error) {
	var maxID int64
	query := `select coalesce(max(instance_id), 0) from pipeline_instances where pipeline_name = $1`
	err := store.rdb.QueryRowContext(ctx, query, pipelineName).Scan(&maxID)
	return maxID, err
}

func (store *InstanceSQLiteStore) RecordStageRun(ctx context.Context, sr *StageRun) error {
	query := `insert into stage_runs (
		pipeline_name, pipeline_counter, stage_name, stage_counter, result, label, completed_on
	)
	values ($1, $2, $3, $4, $5, $6, $7)
	returning stage_run_id`
	return store.rwdb.QueryRowContext(
		ctx, query,
		sr.PipelineName,
		sr.PipelineCounter,
		sr.StageName,
		sr.StageCounter,
		sr.Result,
		sr.Label,
		sr.CompletedOn,
	).Scan(&sr.StageRunID)
}

func (store *InstanceSQLiteStore) ListPassedStageRuns(
	ctx context.Context,
	pipelineName, stageName string,
	afterPipelineCounter, afterStageCounter, limit int64,
) ([]StageRun, error) {
	query := `select * from stage_runs
	where pipeline_name = $1
		and stage_name = $2
		and result = $3
		and (pipeline_counter > $4
			or (pipeline_counter = $4 and stage_counter > $5))
	order by pipeline_counter, stage_counter
	limit $6`
	runs := make([]StageRun, 0)
	err := sqlscan.Select(
		ctx, store.rdb, &runs, query,
		pipelineName,
		stageName,
		StagePassed,
		afterPipelineCounter,
		afterStageCounter,
		limit,
	)
	return runs, err
}
