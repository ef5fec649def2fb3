package store

import (
	"context"
	"errors"
	"time"

	"github.com/haatos/conveyor/internal/material"
)

// ErrFingerprintCollision is returned when a differently-configured material
// tries to claim an existing fingerprint. This is a fatal configuration
// error, never auto-corrected.
var ErrFingerprintCollision = errors.New("material fingerprint collision")

type Material struct {
	MaterialID   int64
	Fingerprint  string
	MaterialType string
	Attributes   string
	Description  string
	// Credentials holds the encrypted username/password blob, if the
	// material carries any. Not part of the fingerprint.
	Credentials *string
}

type Modification struct {
	ModificationID int64
	MaterialID     int64
	Sequence       int64
	Revision       string
	Author         string
	Comment        string
	PipelineLabel  *string
	ModifiedOn     time.Time
}

func (m Modification) AsValue() material.Modification {
	v := material.Modification{
		Revision:   m.Revision,
		Author:     m.Author,
		Comment:    m.Comment,
		ModifiedOn: m.ModifiedOn,
	}
	if m.PipelineLabel != nil {
		v.PipelineLabel = *m.PipelineLabel
	}
	return v
}

type ModifiedFile struct {
	ModifiedFileID int64
	ModificationID int64
	FilePath       string
	Action         string
}

type MaterialStore interface {
	// FindOrCreateMaterial registers a material configuration under its
	// fingerprint. An existing fingerprint with different attributes fails
	// with ErrFingerprintCollision.
	FindOrCreateMaterial(
		ctx context.Context,
		fingerprint, materialType, attributes, description string,
	) (*Material, error)
	ReadMaterialByFingerprint(context.Context, string) (*Material, error)
	ListMaterials(context.Context) ([]*Material, error)
	UpdateMaterialCredentials(ctx context.Context, fingerprint string, credentials *string) error

	LatestModification(ctx context.Context, fingerprint string) (*Modification, error)
	// SaveModifications persists newly discovered modifications in one
	// transaction, assigning strictly increasing sequence numbers. Input is
	// newest first; persisted order is chronological.
	SaveModifications(
		ctx context.Context,
		fingerprint string,
		mods []material.Modification,
	) (int64, error)
	ListModifications(ctx context.Context, fingerprint string, limit int64) ([]Modification, error)
	ListModifiedFiles(ctx context.Context, modificationID int64) ([]ModifiedFile, error)
}
