package storage

import (
	"context"
	"time"
)

// TaskRecord is an internally tracked task as seen by webhook correlation.
type TaskRecord struct {
	ID        int64
	ProjectID int64
	Title     string
	Reference string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserRecord is an application user that GitLab usernames are matched against.
type UserRecord struct {
	ID        int64
	Username  string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemberRecord grants a user a role inside a project.
type MemberRecord struct {
	ProjectID int64
	UserID    int64
	Role      string
}

// Project roles. Viewers can read a project but cannot be assigned tasks.
const (
	RoleManager = "project-manager"
	RoleMember  = "project-member"
	RoleViewer  = "project-viewer"
)

// AssignableRole reports whether members with role may own tasks.
func AssignableRole(role string) bool {
	return role == RoleManager || role == RoleMember
}

// TaskStore defines persistence for tasks.
// Lookups return (nil, nil) when nothing matches.
type TaskStore interface {
	UpsertTask(ctx context.Context, record TaskRecord) (int64, error)
	FindByID(ctx context.Context, id int64) (*TaskRecord, error)
	FindByReference(ctx context.Context, projectID int64, reference string) (*TaskRecord, error)
	Close() error
}

// UserStore defines persistence for users and project membership.
type UserStore interface {
	UpsertUser(ctx context.Context, record UserRecord) (int64, error)
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	AddMember(ctx context.Context, member MemberRecord) error
	IsAssignable(ctx context.Context, projectID, userID int64) (bool, error)
	Close() error
}
