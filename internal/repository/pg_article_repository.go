package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/clinical-trial-extractor/internal/database"
	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// Compile-time interface verification.
var _ ArticleRepository = (*PgArticleRepository)(nil)

// PostgreSQL error codes handled by the repository.
const pgUniqueViolation = "23505"

// articleColumns is the column list shared by every SELECT.
const articleColumns = `id, pmcid, doi, title, first_author, year, reference,
			report_type, disease_site, histopathology, tnm_stage, overall_stage,
			date_range, trial_arms, patient_numbers, median_follow_up,
			primary_outcome, secondary_outcomes, statistics, additional_notes,
			raw_data, processed, created_at, updated_at`

// PgArticleRepository is a PostgreSQL implementation of ArticleRepository.
type PgArticleRepository struct {
	db DBTX
}

// NewPgArticleRepository creates a new PostgreSQL article repository.
func NewPgArticleRepository(db DBTX) *PgArticleRepository {
	return &PgArticleRepository{db: db}
}

// GetByPMCID retrieves a record by its external id.
func (r *PgArticleRepository) GetByPMCID(ctx context.Context, pmcid string) (*domain.Article, error) {
	query := `SELECT ` + articleColumns + `
		FROM articles
		WHERE pmcid = $1`

	article, err := scanArticle(r.db.QueryRow(ctx, query, pmcid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("article", pmcid)
		}
		return nil, fmt.Errorf("failed to get article by pmcid: %w", err)
	}

	return article, nil
}

// Create inserts a new record.
func (r *PgArticleRepository) Create(ctx context.Context, article *domain.Article) (*domain.Article, error) {
	if article == nil {
		return nil, domain.NewValidationError("article", "article cannot be nil")
	}
	if article.PMCID == "" {
		return nil, domain.NewValidationError("pmcid", "pmcid is required")
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO articles (
			pmcid, doi, title, first_author, year, reference,
			report_type, disease_site, histopathology, tnm_stage, overall_stage,
			date_range, trial_arms, patient_numbers, median_follow_up,
			primary_outcome, secondary_outcomes, statistics, additional_notes,
			raw_data, processed, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)
		RETURNING id, created_at, updated_at`

	args := append(contentArgs(article), now, now)

	stored := cloneArticle(article)
	err := r.db.QueryRow(ctx, query, args...).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.NewAlreadyExistsError("article", article.PMCID)
		}
		return nil, fmt.Errorf("failed to insert article: %w", err)
	}

	return stored, nil
}

// Update overwrites every content field of the record with the given id.
func (r *PgArticleRepository) Update(ctx context.Context, id int64, article *domain.Article) (*domain.Article, error) {
	if article == nil {
		return nil, domain.NewValidationError("article", "article cannot be nil")
	}
	if article.PMCID == "" {
		return nil, domain.NewValidationError("pmcid", "pmcid is required")
	}

	query := `
		UPDATE articles SET
			pmcid = $1, doi = $2, title = $3, first_author = $4, year = $5, reference = $6,
			report_type = $7, disease_site = $8, histopathology = $9, tnm_stage = $10,
			overall_stage = $11, date_range = $12, trial_arms = $13, patient_numbers = $14,
			median_follow_up = $15, primary_outcome = $16, secondary_outcomes = $17,
			statistics = $18, additional_notes = $19, raw_data = $20, processed = $21,
			updated_at = $22
		WHERE id = $23
		RETURNING id, created_at, updated_at`

	args := append(contentArgs(article), time.Now().UTC(), id)

	stored := cloneArticle(article)
	err := r.db.QueryRow(ctx, query, args...).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("article", fmt.Sprintf("%d", id))
		}
		if isUniqueViolation(err) {
			return nil, domain.NewAlreadyExistsError("article", article.PMCID)
		}
		return nil, fmt.Errorf("failed to update article: %w", err)
	}

	return stored, nil
}

// List retrieves records matching the filter criteria.
func (r *PgArticleRepository) List(ctx context.Context, filter ArticleFilter) ([]*domain.Article, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.Processed != nil {
		conditions = append(conditions, fmt.Sprintf("processed = $%d", argIndex))
		args = append(args, *filter.Processed)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM articles %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count articles: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM articles
		%s
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d`,
		articleColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	articles := make([]*domain.Article, 0, filter.Limit)
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, article)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating articles: %w", err)
	}

	return articles, totalCount, nil
}

// Delete removes the record with the given PMCID.
func (r *PgArticleRepository) Delete(ctx context.Context, pmcid string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM articles WHERE pmcid = $1`, pmcid)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("article", pmcid)
	}

	return nil
}

// TxRunner runs fn inside a transaction. *database.DB implements it.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// UpsertTx performs Upsert in one transaction holding an advisory lock on the
// PMCID, so concurrent saves of the same record are applied one after another.
func UpsertTx(ctx context.Context, db TxRunner, article *domain.Article) (*domain.Article, bool, error) {
	if article == nil {
		return nil, false, domain.NewValidationError("article", "article cannot be nil")
	}

	var (
		stored  *domain.Article
		created bool
	)
	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.LockKeyTx(ctx, tx, article.PMCID); err != nil {
			return err
		}
		var err error
		stored, created, err = Upsert(ctx, NewPgArticleRepository(tx), article)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// contentArgs returns the caller-supplied columns in INSERT order.
func contentArgs(a *domain.Article) []interface{} {
	var rawData []byte
	if len(a.RawData) > 0 {
		rawData = a.RawData
	}
	return []interface{}{
		a.PMCID, a.DOI, a.Title, a.FirstAuthor, a.Year, a.Reference,
		a.ReportType, a.DiseaseSite, a.Histopathology, a.TNMStage, a.OverallStage,
		a.DateRange, a.TrialArms, a.PatientNumbers, a.MedianFollowUp,
		a.PrimaryOutcome, a.SecondaryOutcomes, a.Statistics, a.AdditionalNotes,
		rawData, a.Processed,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// articleScanDest holds the destination pointers for scanning an Article row.
type articleScanDest struct {
	article domain.Article
	rawData []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *articleScanDest) destinations() []interface{} {
	a := &d.article
	return []interface{}{
		&a.ID, &a.PMCID, &a.DOI, &a.Title, &a.FirstAuthor, &a.Year, &a.Reference,
		&a.ReportType, &a.DiseaseSite, &a.Histopathology, &a.TNMStage, &a.OverallStage,
		&a.DateRange, &a.TrialArms, &a.PatientNumbers, &a.MedianFollowUp,
		&a.PrimaryOutcome, &a.SecondaryOutcomes, &a.Statistics, &a.AdditionalNotes,
		&d.rawData, &a.Processed, &a.CreatedAt, &a.UpdatedAt,
	}
}

// scanArticle scans a single row into an Article. Both pgx.Row and pgx.Rows
// satisfy the row interface.
func scanArticle(row pgx.Row) (*domain.Article, error) {
	var dest articleScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	if len(dest.rawData) > 0 {
		dest.article.RawData = dest.rawData
	}
	return &dest.article, nil
}
