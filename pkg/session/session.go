// Package session holds the dashboard's current upload and decides when the
// model has to run. Parsing and inference happen once per distinct file
// content; threshold changes only re-annotate and re-sort.
package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mchmarny/riskdash/pkg/dataset"
	"github.com/mchmarny/riskdash/pkg/feature"
	"github.com/mchmarny/riskdash/pkg/model"
	"github.com/mchmarny/riskdash/pkg/pipeline"
	"github.com/mchmarny/riskdash/pkg/store"
	"golang.org/x/sync/singleflight"
)

// CacheSizeDefault is how many distinct uploads are kept for reuse.
const CacheSizeDefault = 8

var ErrNoUpload = errors.New("no dataset uploaded")

type entry struct {
	upload *store.Upload
	ds     *dataset.Dataset
	scores []float64
}

// Session is safe for concurrent use.
type Session struct {
	model     model.Predictor
	store     *store.Store
	cacheSize int

	group singleflight.Group

	mu      sync.RWMutex
	current *entry
}

// New creates a session scoring with p and caching in st.
func New(p model.Predictor, st *store.Store, cacheSize int) (*Session, error) {
	if p == nil {
		return nil, errors.New("model required")
	}
	if st == nil {
		return nil, errors.New("store required")
	}
	if cacheSize < 1 {
		cacheSize = CacheSizeDefault
	}
	return &Session{model: p, store: st, cacheSize: cacheSize}, nil
}

// Hash returns the cache key of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Load makes content the current dataset. Content seen before reuses its
// cached scores; new content is validated and scored. On error the current
// dataset is left unchanged. The load is shared by concurrent callers and
// is not canceled with ctx.
func (s *Session) Load(ctx context.Context, name string, content []byte) (*store.Upload, error) {
	hash := Hash(content)
	lctx := context.WithoutCancel(ctx)

	v, err, shared := s.group.Do(hash, func() (any, error) {
		return s.load(lctx, name, hash, content)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("upload load shared", "hash", hash)
	}

	e := v.(*entry)
	s.setCurrent(e)
	return e.upload, nil
}

func (s *Session) load(ctx context.Context, name, hash string, content []byte) (*entry, error) {
	u, err := s.store.GetUploadByHash(ctx, hash)
	switch {
	case err == nil:
		slog.Debug("upload cache hit", "id", u.ID, "hash", hash)
		return s.restore(ctx, u, content)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up upload: %w", err)
	}

	ds, err := dataset.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	scores, err := s.score(ds)
	if err != nil {
		return nil, err
	}

	u = &store.Upload{Name: name, Hash: hash, Rows: ds.Len()}
	if err := s.store.SaveUpload(ctx, u, content, scores); err != nil {
		return nil, fmt.Errorf("caching upload: %w", err)
	}

	removed, err := s.store.Prune(ctx, s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("pruning upload cache: %w", err)
	}
	for _, id := range removed {
		s.evict(id)
	}

	slog.Info("dataset scored", "id", u.ID, "name", name, "rows", ds.Len())
	return &entry{upload: u, ds: ds, scores: scores}, nil
}

// restore rebuilds an entry from cache. The model runs only when the cached
// scores do not cover every row.
func (s *Session) restore(ctx context.Context, u *store.Upload, content []byte) (*entry, error) {
	if content == nil {
		b, err := s.store.GetContent(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("reading cached upload: %w", err)
		}
		content = b
	}

	ds, err := dataset.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	scores, err := s.store.GetScores(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("reading cached scores: %w", err)
	}
	if len(scores) != ds.Len() {
		slog.Warn("cached scores incomplete, rescoring", "id", u.ID, "scores", len(scores), "rows", ds.Len())
		if scores, err = s.score(ds); err != nil {
			return nil, err
		}
		if err := s.store.SaveScores(ctx, u.ID, scores); err != nil {
			return nil, fmt.Errorf("caching scores: %w", err)
		}
	}

	if err := s.store.Touch(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("touching upload: %w", err)
	}
	return &entry{upload: u, ds: ds, scores: scores}, nil
}

func (s *Session) score(ds *dataset.Dataset) ([]float64, error) {
	m, err := feature.Validate(ds)
	if err != nil {
		return nil, err
	}
	return pipeline.Score(m, s.model)
}

// Select makes a previously loaded upload current again.
func (s *Session) Select(ctx context.Context, id uuid.UUID) (*store.Upload, error) {
	if cur := s.get(); cur != nil && cur.upload.ID == id {
		return cur.upload, nil
	}

	u, err := s.store.GetUpload(ctx, id)
	if err != nil {
		return nil, err
	}

	e, err := s.restore(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	s.setCurrent(e)
	return u, nil
}

// Delete drops an upload from the cache, clearing the current dataset if
// it was the one removed.
func (s *Session) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteUpload(ctx, id); err != nil {
		return err
	}
	s.evict(id)
	return nil
}

// Uploads lists cached uploads, most recently used first.
func (s *Session) Uploads(ctx context.Context) ([]*store.Upload, error) {
	return s.store.ListUploads(ctx)
}

// Current returns the upload currently displayed.
func (s *Session) Current() (*store.Upload, error) {
	cur := s.get()
	if cur == nil {
		return nil, ErrNoUpload
	}
	return cur.upload, nil
}

// View returns the current dataset annotated at threshold and sorted by risk.
func (s *Session) View(threshold float64) (*pipeline.Table, error) {
	cur := s.get()
	if cur == nil {
		return nil, ErrNoUpload
	}

	t, err := pipeline.Annotate(cur.ds, cur.scores, threshold)
	if err != nil {
		return nil, err
	}
	return pipeline.Sort(t), nil
}

// Export returns the CSV rendering of View(threshold).
func (s *Session) Export(threshold float64) ([]byte, error) {
	t, err := s.View(threshold)
	if err != nil {
		return nil, err
	}
	return pipeline.Encode(t)
}

func (s *Session) get() *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Session) setCurrent(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = e
}

func (s *Session) evict(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.upload.ID == id {
		slog.Debug("current upload evicted", "id", id)
		s.current = nil
	}
}
