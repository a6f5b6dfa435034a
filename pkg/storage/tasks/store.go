package tasks

import (
	"context"
	"errors"
	"time"

	"taskhooks/pkg/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultTable = "tasks"

// Store implements storage.TaskStore on top of GORM.
type Store struct {
	db     *gorm.DB
	table  string
	ownsDB bool
}

type row struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ProjectID int64     `gorm:"column:project_id;not null;index:idx_task_reference,priority:1"`
	Title     string    `gorm:"column:title;size:255"`
	Reference string    `gorm:"column:reference;size:255;index:idx_task_reference,priority:2"`
	IsActive  bool      `gorm:"column:is_active"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Open connects to the configured database and returns a store that owns the connection.
func Open(cfg storage.Config) (*Store, error) {
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}
	store, err := New(db, cfg)
	if err != nil {
		_ = storage.Close(db)
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// New wraps an existing connection. Close leaves the connection open.
func New(db *gorm.DB, cfg storage.Config) (*Store, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	table := cfg.TasksTable
	if table == "" {
		table = defaultTable
	}
	store := &Store{db: db, table: table}
	if cfg.AutoMigrate {
		if err := store.tableDB().AutoMigrate(&row{}); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection when the store opened it.
func (s *Store) Close() error {
	if s == nil || s.db == nil || !s.ownsDB {
		return nil
	}
	return storage.Close(s.db)
}

// UpsertTask inserts a task, or updates it when record.ID is already set.
func (s *Store) UpsertTask(ctx context.Context, record storage.TaskRecord) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if record.ProjectID <= 0 {
		return 0, errors.New("project_id is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	data := toRow(record)
	err := s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"project_id", "title", "reference", "is_active", "updated_at"}),
		}).
		Create(&data).Error
	if err != nil {
		return 0, err
	}
	return data.ID, nil
}

// FindByID fetches a task by its internal id.
func (s *Store) FindByID(ctx context.Context, id int64) (*storage.TaskRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if id <= 0 {
		return nil, nil
	}
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where("id = ?", id).
		Take(&data).Error
	return found(data, err)
}

// FindByReference fetches the task of projectID whose stored external
// reference equals reference exactly.
func (s *Store) FindByReference(ctx context.Context, projectID int64, reference string) (*storage.TaskRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if reference == "" {
		return nil, nil
	}
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where("project_id = ? AND reference = ?", projectID, reference).
		Order("id asc").
		Take(&data).Error
	return found(data, err)
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func found(data row, err error) (*storage.TaskRecord, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromRow(data)
	return &record, nil
}

func toRow(record storage.TaskRecord) row {
	return row{
		ID:        record.ID,
		ProjectID: record.ProjectID,
		Title:     record.Title,
		Reference: record.Reference,
		IsActive:  record.IsActive,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func fromRow(data row) storage.TaskRecord {
	return storage.TaskRecord{
		ID:        data.ID,
		ProjectID: data.ProjectID,
		Title:     data.Title,
		Reference: data.Reference,
		IsActive:  data.IsActive,
		CreatedAt: data.CreatedAt,
		UpdatedAt: data.UpdatedAt,
	}
}
