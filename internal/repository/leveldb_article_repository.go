package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// Compile-time interface verification.
var _ ArticleRepository = (*LevelDBArticleRepository)(nil)

// LevelDB key layout.
const (
	levelDBSeqKey        = "seq:article"
	levelDBArticlePrefix = "article:"
	levelDBIDIndexPrefix = "article_id:"
)

// LevelDBArticleRepository stores records as JSON documents in an embedded
// LevelDB database. Records live under "article:<pmcid>"; "article_id:<id>"
// maps the numeric id back to the PMCID.
type LevelDBArticleRepository struct {
	db *leveldb.DB
	// mu serializes writes so id allocation and index maintenance stay consistent.
	mu  sync.Mutex
	now func() time.Time
}

// NewLevelDBArticleRepository opens (or creates) the store at path.
func NewLevelDBArticleRepository(path string) (*LevelDBArticleRepository, error) {
	const op = "repository.NewLevelDBArticleRepository"

	if path == "" {
		return nil, domain.NewValidationError("leveldb_path", "path is required")
	}

	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &LevelDBArticleRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying database files.
func (r *LevelDBArticleRepository) Close() error {
	return r.db.Close()
}

// Ping reports whether the store is open.
func (r *LevelDBArticleRepository) Ping(_ context.Context) error {
	_, err := r.db.GetProperty("leveldb.num-files-at-level0")
	return err
}

// GetByPMCID retrieves a record by its external id.
func (r *LevelDBArticleRepository) GetByPMCID(_ context.Context, pmcid string) (*domain.Article, error) {
	return r.get(pmcid)
}

// Create inserts a new record.
func (r *LevelDBArticleRepository) Create(_ context.Context, article *domain.Article) (*domain.Article, error) {
	if article == nil {
		return nil, domain.NewValidationError("article", "article cannot be nil")
	}
	if article.PMCID == "" {
		return nil, domain.NewValidationError("pmcid", "pmcid is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.db.Has(articleKey(article.PMCID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check article: %w", err)
	}
	if exists {
		return nil, domain.NewAlreadyExistsError("article", article.PMCID)
	}

	id, err := r.nextID()
	if err != nil {
		return nil, err
	}

	stored := cloneArticle(article)
	stored.ID = id
	stored.CreatedAt = r.now()
	stored.UpdatedAt = stored.CreatedAt

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal article: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(levelDBSeqKey), []byte(strconv.FormatInt(id, 10)))
	batch.Put(articleKey(stored.PMCID), data)
	batch.Put(idIndexKey(id), []byte(stored.PMCID))
	if err := r.db.Write(batch, nil); err != nil {
		return nil, fmt.Errorf("failed to insert article: %w", err)
	}

	return stored, nil
}

// Update overwrites every content field of the record with the given id.
func (r *LevelDBArticleRepository) Update(_ context.Context, id int64, article *domain.Article) (*domain.Article, error) {
	if article == nil {
		return nil, domain.NewValidationError("article", "article cannot be nil")
	}
	if article.PMCID == "" {
		return nil, domain.NewValidationError("pmcid", "pmcid is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pmcid, err := r.db.Get(idIndexKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, domain.NewNotFoundError("article", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("failed to read id index: %w", err)
	}

	current, err := r.get(string(pmcid))
	if err != nil {
		return nil, err
	}

	batch := new(leveldb.Batch)
	if article.PMCID != current.PMCID {
		taken, err := r.db.Has(articleKey(article.PMCID), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to check article: %w", err)
		}
		if taken {
			return nil, domain.NewAlreadyExistsError("article", article.PMCID)
		}
		batch.Delete(articleKey(current.PMCID))
		batch.Put(idIndexKey(id), []byte(article.PMCID))
	}

	current.CopyContentFrom(cloneArticle(article))
	current.UpdatedAt = r.now()

	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal article: %w", err)
	}
	batch.Put(articleKey(current.PMCID), data)

	if err := r.db.Write(batch, nil); err != nil {
		return nil, fmt.Errorf("failed to update article: %w", err)
	}

	return current, nil
}

// List retrieves records matching the filter criteria.
func (r *LevelDBArticleRepository) List(_ context.Context, filter ArticleFilter) ([]*domain.Article, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	iter := r.db.NewIterator(util.BytesPrefix([]byte(levelDBArticlePrefix)), nil)
	defer iter.Release()

	var all []*domain.Article
	for iter.Next() {
		var a domain.Article
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal article %q: %w", iter.Key(), err)
		}
		all = append(all, &a)
	}
	if err := iter.Error(); err != nil {
		return nil, 0, fmt.Errorf("error iterating articles: %w", err)
	}

	page, total := paginate(all, filter)
	return page, total, nil
}

// Delete removes the record with the given PMCID.
func (r *LevelDBArticleRepository) Delete(_ context.Context, pmcid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.get(pmcid)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Delete(articleKey(pmcid))
	batch.Delete(idIndexKey(current.ID))
	if err := r.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}
	return nil
}

func (r *LevelDBArticleRepository) get(pmcid string) (*domain.Article, error) {
	data, err := r.db.Get(articleKey(pmcid), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, domain.NewNotFoundError("article", pmcid)
		}
		return nil, fmt.Errorf("failed to get article by pmcid: %w", err)
	}

	var a domain.Article
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal article: %w", err)
	}
	return &a, nil
}

// nextID returns the next record id. Callers hold r.mu and persist the new
// value in the same batch as the record.
func (r *LevelDBArticleRepository) nextID() (int64, error) {
	raw, err := r.db.Get([]byte(levelDBSeqKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read id sequence: %w", err)
	}

	last, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt id sequence %q: %w", raw, err)
	}
	return last + 1, nil
}

func articleKey(pmcid string) []byte {
	return []byte(levelDBArticlePrefix + pmcid)
}

func idIndexKey(id int64) []byte {
	return []byte(levelDBIDIndexPrefix + strconv.FormatInt(id, 10))
}
