package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/config"
	"github.com/Conceptual-Machines/magda-composer/internal/share"
	"github.com/google/uuid"
)

const (
	TypeLocal    = "local"
	TypeGCS      = "gcs"
	TypePostgres = "postgres"

	DefaultListLimit = 50
)

var ErrNotFound = errors.New("shared run not found")

// Summary lists a stored run without its payload
type Summary struct {
	ID        string    `json:"id"`
	Objective string    `json:"objective,omitempty"`
	Model     string    `json:"model,omitempty"`
	NoteCount int       `json:"noteCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists shared runs
type Store interface {
	Save(ctx context.Context, run *share.Run) error
	Load(ctx context.Context, id string) (*share.Run, error)
	// List returns the newest runs first
	List(ctx context.Context, limit int) ([]Summary, error)
	Close() error
}

// New opens the store selected by cfg.StorageType
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageType {
	case "", TypeLocal:
		return NewLocalStore(cfg.StorageDir)
	case TypeGCS:
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix, cfg.GCSCredentialsFile)
	case TypePostgres:
		return NewPostgresStore(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}

// validID keeps ids usable as file and object names
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func summarize(run *share.Run) Summary {
	s := Summary{
		ID:        run.ID,
		Objective: run.Objective,
		Model:     run.Model,
		CreatedAt: run.CreatedAt,
	}
	if run.Composition != nil {
		s.NoteCount = len(run.Composition.Notes)
	}
	return s
}

func newestFirst(list []Summary, limit int) []Summary {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

func checkRun(run *share.Run) error {
	if run == nil || run.Composition == nil {
		return fmt.Errorf("%w: missing composition", share.ErrInvalidRun)
	}
	if !validID(run.ID) {
		return fmt.Errorf("%w: bad id %q", share.ErrInvalidRun, run.ID)
	}
	return nil
}
