package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// Compile-time interface verification.
var _ ArticleRepository = (*MemoryArticleRepository)(nil)

// MemoryArticleRepository keeps records in process memory.
type MemoryArticleRepository struct {
	mu      sync.RWMutex
	byPMCID map[string]*domain.Article
	nextID  int64
	now     func() time.Time
}

// NewMemoryArticleRepository creates an empty in-memory repository.
func NewMemoryArticleRepository() *MemoryArticleRepository {
	return &MemoryArticleRepository{
		byPMCID: make(map[string]*domain.Article),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetByPMCID retrieves a record by its external id.
func (r *MemoryArticleRepository) GetByPMCID(_ context.Context, pmcid string) (*domain.Article, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byPMCID[pmcid]
	if !ok {
		return nil, domain.NewNotFoundError("article", pmcid)
	}
	return cloneArticle(a), nil
}

// Create inserts a new record.
func (r *MemoryArticleRepository) Create(_ context.Context, article *domain.Article) (*domain.Article, error) {
	if article == nil {
		return nil, domain.NewValidationError("article", "article cannot be nil")
	}
	if article.PMCID == "" {
		return nil, domain.NewValidationError("pmcid", "pmcid is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPMCID[article.PMCID]; ok {
		return nil, domain.NewAlreadyExistsError("article", article.PMCID)
	}

	r.nextID++
	stored := cloneArticle(article)
	stored.ID = r.nextID
	stored.CreatedAt = r.now()
	stored.UpdatedAt = stored.CreatedAt
	r.byPMCID[stored.PMCID] = stored

	return cloneArticle(stored), nil
}

// Update overwrites every content field of the record with the given id.
func (r *MemoryArticleRepository) Update(_ context.Context, id int64, article *domain.Article) (*domain.Article, error) {
	if article == nil {
		return nil, domain.NewValidationError("article", "article cannot be nil")
	}
	if article.PMCID == "" {
		return nil, domain.NewValidationError("pmcid", "pmcid is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var current *domain.Article
	for _, a := range r.byPMCID {
		if a.ID == id {
			current = a
			break
		}
	}
	if current == nil {
		return nil, domain.NewNotFoundError("article", fmt.Sprintf("%d", id))
	}
	if other, ok := r.byPMCID[article.PMCID]; ok && other.ID != id {
		return nil, domain.NewAlreadyExistsError("article", article.PMCID)
	}

	stored := cloneArticle(current)
	stored.CopyContentFrom(cloneArticle(article))
	stored.UpdatedAt = r.now()

	delete(r.byPMCID, current.PMCID)
	r.byPMCID[stored.PMCID] = stored

	return cloneArticle(stored), nil
}

// List retrieves records matching the filter criteria.
func (r *MemoryArticleRepository) List(_ context.Context, filter ArticleFilter) ([]*domain.Article, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	r.mu.RLock()
	all := make([]*domain.Article, 0, len(r.byPMCID))
	for _, a := range r.byPMCID {
		all = append(all, cloneArticle(a))
	}
	r.mu.RUnlock()

	page, total := paginate(all, filter)
	return page, total, nil
}

// Delete removes the record with the given PMCID.
func (r *MemoryArticleRepository) Delete(_ context.Context, pmcid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPMCID[pmcid]; !ok {
		return domain.NewNotFoundError("article", pmcid)
	}
	delete(r.byPMCID, pmcid)
	return nil
}
