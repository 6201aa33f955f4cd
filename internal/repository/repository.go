// Package repository stores extracted clinical-trial records.
//
// ArticleRepository has three drivers, selected by storage.driver:
// PgArticleRepository (pgx over the migrated articles table),
// LevelDBArticleRepository (an embedded single-process store) and
// MemoryArticleRepository (tests and local runs). All are safe for concurrent
// use and report domain errors (domain.ErrNotFound, domain.ErrAlreadyExists,
// domain.ErrInvalidInput).
//
// Records are keyed by PMCID. Upsert updates the record holding a PMCID in
// place or creates it, and concurrent upserts of one PMCID are
// last-write-wins. UpsertTx additionally serializes them in PostgreSQL.
package repository

import (
	"github.com/helixir/clinical-trial-extractor/internal/database"
)

// DBTX is satisfied by *database.DB and pgx.Tx, so a repository built on a
// transaction joins it.
type DBTX = database.DBTX

const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// clampPage bounds limit to 1..maxFilterLimit (0 means the default) and
// offset to zero or more.
func clampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = defaultFilterLimit
	case limit > maxFilterLimit:
		limit = maxFilterLimit
	}
	return limit, max(offset, 0)
}
