package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Conceptual-Machines/magda-composer/internal/logger"
	"github.com/Conceptual-Machines/magda-composer/internal/share"
)

// LocalStore keeps one JSON file per run
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "runs"
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the run atomically
func (s *LocalStore) Save(_ context.Context, run *share.Run) error {
	if err := checkRun(run); err != nil {
		return err
	}
	data, err := share.MarshalRun(run)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".run-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write run: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write run: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(run.ID)); err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	return nil
}

// Load reads a run by id
func (s *LocalStore) Load(_ context.Context, id string) (*share.Run, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return share.UnmarshalRun(data)
}

// List decodes every stored run; fine for the small local case
func (s *LocalStore) List(ctx context.Context, limit int) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var list []Summary
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok || !validID(id) {
			continue
		}
		run, err := s.Load(ctx, id)
		if err != nil {
			logger.Warn("Skipping unreadable shared run", logger.Fields{"id": id, "error": err.Error()})
			continue
		}
		list = append(list, summarize(run))
	}
	return newestFirst(list, limit), nil
}

// Close is a no-op
func (s *LocalStore) Close() error {
	return nil
}
