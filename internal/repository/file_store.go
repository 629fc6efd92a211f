package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"Rewind/internal/domain/models"
	domrepo "Rewind/internal/domain/repository"
)

// FileResultStore keeps one indented JSON document per experiment.
type FileResultStore struct {
	dir string
	mu  sync.RWMutex
}

var _ domrepo.ResultStore = (*FileResultStore)(nil)

// NewFileResultStore creates dir if needed.
func NewFileResultStore(dir string) (*FileResultStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	return &FileResultStore{dir: dir}, nil
}

// Save writes r atomically, replacing any previous document with the same id.
func (s *FileResultStore) Save(ctx context.Context, r *models.ExperimentResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(r.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode %s: %w", r.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, "."+r.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file store: write %s: %w", r.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file store: sync %s: %w", r.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: close %s: %w", r.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("file store: commit %s: %w", r.ID, err)
	}
	return syncDir(s.dir)
}

// syncDir flushes the directory entry so a committed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("file store: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("file store: sync dir: %w", err)
	}
	return nil
}

// Get loads the document for id.
func (s *FileResultStore) Get(ctx context.Context, id string) (*models.ExperimentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("experiment %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %s: %w", id, err)
	}
	var r models.ExperimentResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("file store: decode %s: %w", id, err)
	}
	return &r, nil
}

// List returns summaries newest first. Unreadable documents are skipped.
func (s *FileResultStore) List(ctx context.Context, limit int) ([]models.ExperimentSummary, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(s.dir)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("file store: list: %w", err)
	}
	out := make([]models.ExperimentSummary, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		r, err := s.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out = append(out, r.Summary())
	}
	sortSummaries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileResultStore) Close() error { return nil }

func (s *FileResultStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("experiment %q: %w", id, models.ErrNotFound)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func sortSummaries(s []models.ExperimentSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
