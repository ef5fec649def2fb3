package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/conveyor/internal/material"
)

type MaterialSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewMaterialSQLiteStore(rdb, rwdb *sql.DB) *MaterialSQLiteStore {
	return &MaterialSQLiteStore{rdb, rwdb}
}

func (store *MaterialSQLiteStore) FindOrCreateMaterial(
	ctx context.Context,
	fingerprint, materialType, attributes, description string,
) (*Material, error) {
	existing, err := store.ReadMaterialByFingerprint(ctx, fingerprint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		if existing.Attributes != attributes {
			return nil, ErrFingerprintCollision
		}
		return existing, nil
	}

	m := &Material{
		Fingerprint:  fingerprint,
		MaterialType: materialType,
		Attributes:   attributes,
		Description:  description,
	}
	query := `insert into materials (fingerprint, material_type, attributes, description)
	values ($1, $2, $3, $4)
	returning material_id`
	err = sqlscan.Get(
		ctx, store.rwdb, m, query,
		m.Fingerprint,
		m.MaterialType,
		m.Attributes,
		m.Description,
	)
	return m, err
}

func (store *MaterialSQLiteStore) ReadMaterialByFingerprint(
	ctx context.Context,
	fingerprint string,
) (*Material, error) {
	m := new(Material)
	query := `select * from materials where fingerprint = $1`
	if err := sqlscan.Get(ctx, store.rdb, m, query, fingerprint); err != nil {
		return nil, err
	}
	return m, nil
}

func (store *MaterialSQLiteStore) ListMaterials(ctx context.Context) ([]*Material, error) {
	query := `select * from materials order by material_id`
	materials := make([]*Material, 0)
	err := sqlscan.Select(ctx, store.rdb, &materials, query)
	return materials, err
}

func (store *MaterialSQLiteStore) UpdateMaterialCredentials(
	ctx context.Context,
	fingerprint string,
	credentials *string,
) error {
	query := `update materials set credentials = $1 where fingerprint = $2`
	_, err := store.rwdb.ExecContext(ctx, query, credentials, fingerprint)
	return err
}

func (store *MaterialSQLiteStore) LatestModification(
	ctx context.Context,
	fingerprint string,
) (*Modification, error) {
	m := new(Modification)
	query := `select mo.* from modifications mo
	join materials ma on ma.material_id = mo.material_id
	where ma.fingerprint = $1
	order by mo.sequence desc
	limit 1`
	if err := sqlscan.Get(ctx, store.rdb, m, query, fingerprint); err != nil {
		return nil, err
	}
	return m, nil
}

func (store *MaterialSQLiteStore) SaveModifications(
	ctx context.Context,
	fingerprint string,
	mods []material.Modification,
) (int64, error) {
	if len(mods) == 0 {
		return 0, nil
	}

	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var materialID, maxSequence int64
	if err := tx.QueryRowContext(
		ctx,
		`select material_id from materials where fingerprint = $1`,
		fingerprint,
	).Scan(&materialID); err != nil {
		return 0, err
	}
	if err := tx.QueryRowContext(
		ctx,
		`select coalesce(max(sequence), 0) from modifications where material_id = $1`,
		materialID,
	).Scan(&maxSequence); err != nil {
		return 0, err
	}

	var inserted int64
	// input is newest first; persist oldest first so sequence follows
	// discovery order
	for i := len(mods) - 1; i >= 0; i-- {
		mod := mods[i]
		maxSequence++
		var pipelineLabel *string
		if mod.PipelineLabel != "" {
			pipelineLabel = &mod.PipelineLabel
		}
		var modificationID int64
		if err := tx.QueryRowContext(
			ctx,
			`insert into modifications (
				material_id, sequence, revision, author, comment, pipeline_label, modified_on
			)
			values ($1, $2, $3, $4, $5, $6, $7)
			returning modification_id`,
			materialID,
			maxSequence,
			mod.Revision,
			mod.Author,
			mod.Comment,
			pipelineLabel,
			mod.ModifiedOn,
		).Scan(&modificationID); err != nil {
			return 0, err
		}
		for _, f := range mod.Files {
			if _, err := tx.ExecContext(
				ctx,
				`insert into modified_files (modification_id, file_path, action)
				values ($1, $2, $3)`,
				modificationID,
				f.Path,
				string(f.Action),
			); err != nil {
				return 0, err
			}
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (store *MaterialSQLiteStore) ListModifications(
	ctx context.Context,
	fingerprint string,
	limit int64,
) ([]Modification, error) {
	query := `select mo.* from modifications mo
	join materials ma on ma.material_id = mo.material_id
	where ma.fingerprint = $1
	order by mo.sequence desc
	limit $2`
	mods := make([]Modification, 0)
	err := sqlscan.Select(ctx, store.rdb, &mods, query, fingerprint, limit)
	return mods, err
}

func (store *MaterialSQLiteStore) ListModifiedFiles(
	ctx context.Context,
	modificationID int64,
) ([]ModifiedFile, error) {
	query := `select * from modified_files where modification_id = $1 order by modified_file_id`
	files := make([]ModifiedFile, 0)
	err := sqlscan.Select(ctx, store.rdb, &files, query, modificationID)
	return files, err
}
