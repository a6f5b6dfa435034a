package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskhooks/pkg/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultUsersTable   = "users"
	defaultMembersTable = "project_has_users"
)

// Store implements storage.UserStore on top of GORM.
type Store struct {
	db      *gorm.DB
	users   string
	members string
	ownsDB  bool
}

type userRow struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Username  string    `gorm:"column:username;size:255;not null;uniqueIndex:idx_user_username"`
	Name      string    `gorm:"column:name;size:255"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

type memberRow struct {
	ProjectID int64  `gorm:"column:project_id;not null;uniqueIndex:idx_project_member,priority:1"`
	UserID    int64  `gorm:"column:user_id;not null;uniqueIndex:idx_project_member,priority:2"`
	Role      string `gorm:"column:role;size:32;not null"`
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
	store := &Store{db: db, users: cfg.UsersTable, members: cfg.MembersTable}
	if store.users == "" {
		store.users = defaultUsersTable
	}
	if store.members == "" {
		store.members = defaultMembersTable
	}
	if cfg.AutoMigrate {
		if err := db.Table(store.users).AutoMigrate(&userRow{}); err != nil {
			return nil, err
		}
		if err := db.Table(store.members).AutoMigrate(&memberRow{}); err != nil {
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

// UpsertUser inserts or updates a user keyed by username.
func (s *Store) UpsertUser(ctx context.Context, record storage.UserRecord) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	record.Username = strings.TrimSpace(record.Username)
	if record.Username == "" {
		return 0, errors.New("username is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	data := userRow{
		ID:        record.ID,
		Username:  record.Username,
		Name:      record.Name,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	err := s.db.Table(s.users).
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).
		Create(&data).Error
	if err != nil {
		return 0, err
	}
	if data.ID != 0 {
		return data.ID, nil
	}
	existing, err := s.FindByUsername(ctx, record.Username)
	if err != nil || existing == nil {
		return 0, err
	}
	return existing.ID, nil
}

// FindByUsername fetches a user by exact username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*storage.UserRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if username == "" {
		return nil, nil
	}
	var data userRow
	err := s.db.Table(s.users).
		WithContext(ctx).
		Where("username = ?", username).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &storage.UserRecord{
		ID:        data.ID,
		Username:  data.Username,
		Name:      data.Name,
		CreatedAt: data.CreatedAt,
		UpdatedAt: data.UpdatedAt,
	}, nil
}

// AddMember grants a user a role in a project, replacing any previous role.
func (s *Store) AddMember(ctx context.Context, member storage.MemberRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if member.ProjectID <= 0 || member.UserID <= 0 {
		return errors.New("project_id and user_id are required")
	}
	if member.Role == "" {
		member.Role = storage.RoleMember
	}
	data := memberRow(member)
	return s.db.Table(s.members).
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role"}),
		}).
		Create(&data).Error
}

// IsAssignable reports whether userID holds an assignable role in projectID.
func (s *Store) IsAssignable(ctx context.Context, projectID, userID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store is not initialized")
	}
	if projectID <= 0 || userID <= 0 {
		return false, nil
	}
	var data memberRow
	err := s.db.Table(s.members).
		WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return storage.AssignableRole(data.Role), nil
}
