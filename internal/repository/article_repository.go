package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// ArticleRepository persists clinical-trial records keyed by PMCID.
type ArticleRepository interface {
	// GetByPMCID retrieves a record by its external id.
	// Returns domain.ErrNotFound if no matching record exists.
	GetByPMCID(ctx context.Context, pmcid string) (*domain.Article, error)

	// Create inserts a new record and populates ID, CreatedAt and UpdatedAt.
	// Returns domain.ErrAlreadyExists if a record with the same PMCID exists.
	Create(ctx context.Context, article *domain.Article) (*domain.Article, error)

	// Update overwrites every content field of the record with the given id.
	// ID and CreatedAt are preserved; UpdatedAt is refreshed.
	// Returns domain.ErrNotFound if the record does not exist.
	Update(ctx context.Context, id int64, article *domain.Article) (*domain.Article, error)

	// List retrieves records matching the filter, newest first.
	// The total count reflects all matching records regardless of limit/offset.
	List(ctx context.Context, filter ArticleFilter) ([]*domain.Article, int64, error)

	// Delete removes the record with the given PMCID.
	// Returns domain.ErrNotFound if no matching record exists.
	Delete(ctx context.Context, pmcid string) error
}

// ArticleFilter specifies criteria for listing records.
type ArticleFilter struct {
	// Processed filters by extraction status (optional).
	// When nil, no filtering is applied.
	Processed *bool

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks if the filter has valid values and sets defaults.
func (f *ArticleFilter) Validate() error {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return nil
}

// matches reports whether a passes the non-pagination criteria of f.
func (f *ArticleFilter) matches(a *domain.Article) bool {
	if f.Processed != nil && a.Processed != *f.Processed {
		return false
	}
	return true
}

// Upsert stores article under its PMCID: an existing record is updated in
// place, otherwise a new one is created. The returned flag reports whether a
// record was created. A Create that loses a race against a concurrent insert
// of the same PMCID falls back to updating the winner.
func Upsert(ctx context.Context, repo ArticleRepository, article *domain.Article) (*domain.Article, bool, error) {
	if article == nil {
		return nil, false, domain.NewValidationError("article", "article cannot be nil")
	}
	if article.PMCID == "" {
		return nil, false, domain.NewValidationError("pmcid", "pmcid is required")
	}

	existing, err := repo.GetByPMCID(ctx, article.PMCID)
	switch {
	case err == nil:
		updated, err := repo.Update(ctx, existing.ID, article)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update article: %w", err)
		}
		return updated, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up article: %w", err)
	}

	created, err := repo.Create(ctx, article)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, domain.ErrAlreadyExists) {
		return nil, false, fmt.Errorf("failed to create article: %w", err)
	}

	existing, err = repo.GetByPMCID(ctx, article.PMCID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up article: %w", err)
	}
	updated, err := repo.Update(ctx, existing.ID, article)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update article: %w", err)
	}
	return updated, false, nil
}

// paginate applies filter to an unordered set of records the way the
// PostgreSQL List query does: filter, order by id descending, then slice.
func paginate(all []*domain.Article, filter ArticleFilter) ([]*domain.Article, int64) {
	matched := make([]*domain.Article, 0, len(all))
	for _, a := range all {
		if filter.matches(a) {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []*domain.Article{}, total
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], total
}

// cloneArticle returns a deep copy so callers cannot mutate stored state.
func cloneArticle(a *domain.Article) *domain.Article {
	c := *a
	if a.RawData != nil {
		c.RawData = append([]byte(nil), a.RawData...)
	}
	return &c
}
