package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Conceptual-Machines/magda-composer/internal/models"
	"github.com/Conceptual-Machines/magda-composer/internal/share"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresStore keeps runs in the shared_runs table
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects and migrates the shared_runs table
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is required for postgres storage")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB uses an existing connection
func NewPostgresStoreWithDB(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&models.SharedRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate shared runs: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Save inserts or replaces the run
func (s *PostgresStore) Save(ctx context.Context, run *share.Run) error {
	if err := checkRun(run); err != nil {
		return err
	}
	data, err := share.MarshalRun(run)
	if err != nil {
		return err
	}
	sum := summarize(run)
	row := models.SharedRun{
		ID:         run.ID,
		CreatedAt:  run.CreatedAt,
		Objective:  run.Objective,
		Model:      run.Model,
		TotalCalls: run.Metrics.TotalCalls,
		NoteCount:  sum.NoteCount,
		Payload:    string(data),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Load fetches a run by id
func (s *PostgresStore) Load(ctx context.Context, id string) (*share.Run, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var row models.SharedRun
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return share.UnmarshalRun([]byte(row.Payload))
}

// List returns summaries without loading payloads
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var rows []models.SharedRun
	err := s.db.WithContext(ctx).
		Select("id", "created_at", "objective", "model", "note_count").
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	list := make([]Summary, 0, len(rows))
	for _, r := range rows {
		list = append(list, Summary{
			ID:        r.ID,
			Objective: r.Objective,
			Model:     r.Model,
			NoteCount: r.NoteCount,
			CreatedAt: r.CreatedAt,
		})
	}
	return list, nil
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
