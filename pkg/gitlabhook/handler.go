package gitlabhook

import (
	"context"
	"errors"
	"fmt"
	"log"

	"taskhooks/pkg/storage"
)

var (
	// ErrUnsupportedAction is returned for issue hooks whose action is not open, close or reopen.
	ErrUnsupportedAction = errors.New("unsupported issue action")
	// ErrMalformedPayload is returned when a payload lacks what its category requires.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Result tells whether a delivery produced at least one event.
type Result int

const (
	Ignored Result = iota
	Processed
)

func (r Result) String() string {
	if r == Processed {
		return "PARSED"
	}
	return "IGNORED"
}

// Issue actions sent in object_attributes.action.
const (
	ActionOpen   = "open"
	ActionClose  = "close"
	ActionReopen = "reopen"
)

// UserFinder resolves GitLab usernames to application users.
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*storage.UserRecord, error)
	IsAssignable(ctx context.Context, projectID, userID int64) (bool, error)
}

// Dispatcher receives every emitted event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// Handler maps GitLab deliveries for a project onto task events. It keeps no
// per-request state and is safe for concurrent use.
type Handler struct {
	tasks      *Correlator
	users      UserFinder
	dispatcher Dispatcher
	logger     *log.Logger
}

// NewHandler creates a Handler. users may be nil, in which case comment
// events are never attributed to a user.
func NewHandler(tasks *Correlator, users UserFinder, dispatcher Dispatcher, logger *log.Logger) (*Handler, error) {
	if tasks == nil {
		return nil, errors.New("correlator is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{tasks: tasks, users: users, dispatcher: dispatcher, logger: logger}, nil
}

// Parse classifies raw and runs the matching handler for projectID.
func (h *Handler) Parse(ctx context.Context, projectID int64, raw []byte) (Result, error) {
	category := Classify(raw)
	if category == CategoryUnknown {
		return Ignored, nil
	}
	payload, err := Decode(category, raw)
	if err != nil {
		return Ignored, err
	}
	return h.Handle(ctx, projectID, payload)
}

// Handle runs the handler for an already decoded payload.
func (h *Handler) Handle(ctx context.Context, projectID int64, payload Payload) (Result, error) {
	switch p := payload.(type) {
	case *PushPayload:
		return h.HandlePush(ctx, projectID, p)
	case *IssuePayload:
		return h.HandleIssue(ctx, projectID, p)
	case *CommentPayload:
		return h.HandleComment(ctx, projectID, p)
	default:
		return Ignored, nil
	}
}

// HandlePush emits a commit event for every commit that references a task
// of projectID. Commits are independent: a skipped or failed commit never
// stops the rest of the batch.
func (h *Handler) HandlePush(ctx context.Context, projectID int64, payload *PushPayload) (Result, error) {
	result := Ignored
	for _, commit := range payload.Commits {
		if h.handleCommit(ctx, projectID, commit) {
			result = Processed
		}
	}
	return result, nil
}

func (h *Handler) handleCommit(ctx context.Context, projectID int64, commit Commit) bool {
	task, err := h.tasks.TaskFromText(ctx, commit.Message)
	if err != nil {
		h.logger.Printf("commit %s: find task: %v", commit.ID, err)
		return false
	}
	if task == nil {
		return false
	}
	if task.ProjectID != projectID {
		h.logger.Printf("commit %s: task %d belongs to project %d, not %d; dropped", commit.ID, task.ID, task.ProjectID, projectID)
		return false
	}

	attrs := taskAttributes(task)
	attrs["task_id"] = task.ID
	attrs["commit_message"] = commit.Message
	attrs["commit_url"] = commit.URL
	attrs["comment"] = commitComment(commit.Message, commit.Author.Name, commit.URL)
	return h.emit(ctx, Event{Kind: KindCommit, ProjectID: projectID, Attributes: attrs})
}

// HandleIssue maps issue lifecycle actions. Opening always emits; closing
// and reopening only emit for issues already imported as tasks.
func (h *Handler) HandleIssue(ctx context.Context, projectID int64, payload *IssuePayload) (Result, error) {
	issue := payload.ObjectAttributes
	switch issue.Action {
	case ActionOpen:
		return h.issueOpened(ctx, projectID, payload), nil
	case ActionClose:
		return h.issueTransition(ctx, projectID, KindIssueClosed, issue)
	case ActionReopen:
		return h.issueTransition(ctx, projectID, KindIssueReopened, issue)
	default:
		return Ignored, fmt.Errorf("%w: %q", ErrUnsupportedAction, issue.Action)
	}
}

func (h *Handler) issueOpened(ctx context.Context, projectID int64, payload *IssuePayload) Result {
	issue := payload.ObjectAttributes
	event := Event{
		Kind:      KindIssueOpened,
		ProjectID: projectID,
		Attributes: map[string]interface{}{
			"project_id":  projectID,
			"reference":   issue.ID,
			"title":       issue.Title,
			"description": issueDescription(issue.Description, payload.Project.WebURL, issue.URL),
			"assignee_id": issue.Assignee(),
			"author_id":   issue.AuthorID,
		},
	}
	if h.emit(ctx, event) {
		return Processed
	}
	return Ignored
}

func (h *Handler) issueTransition(ctx context.Context, projectID int64, kind Kind, issue IssueAttributes) (Result, error) {
	task, err := h.tasks.TaskByReference(ctx, projectID, issue.ID)
	if err != nil {
		return Ignored, fmt.Errorf("find task for issue %d: %w", issue.ID, err)
	}
	if task == nil {
		return Ignored, nil
	}
	event := Event{
		Kind:      kind,
		ProjectID: projectID,
		Attributes: map[string]interface{}{
			"project_id":  projectID,
			"task_id":     task.ID,
			"reference":   issue.ID,
			"assignee_id": issue.Assignee(),
			"author_id":   issue.AuthorID,
		},
	}
	if h.emit(ctx, event) {
		return Processed, nil
	}
	return Ignored, nil
}

// HandleComment maps a note left on an imported issue. The author is only
// credited when they are an assignable member of projectID.
func (h *Handler) HandleComment(ctx context.Context, projectID int64, payload *CommentPayload) (Result, error) {
	if payload.Issue == nil {
		return Ignored, fmt.Errorf("%w: note has no issue", ErrMalformedPayload)
	}
	task, err := h.tasks.TaskByReference(ctx, projectID, payload.Issue.ID)
	if err != nil {
		return Ignored, fmt.Errorf("find task for issue %d: %w", payload.Issue.ID, err)
	}
	if task == nil {
		return Ignored, nil
	}

	userID, err := h.resolveUser(ctx, projectID, payload.User.Username)
	if err != nil {
		return Ignored, err
	}

	note := payload.ObjectAttributes
	event := Event{
		Kind:      KindIssueCommented,
		ProjectID: projectID,
		Attributes: map[string]interface{}{
			"project_id": projectID,
			"reference":  note.ID,
			"comment":    noteComment(note.Note, payload.Project.WebURL, payload.User.Username, note.URL),
			"user_id":    userID,
			"task_id":    task.ID,
		},
	}
	if h.emit(ctx, event) {
		return Processed, nil
	}
	return Ignored, nil
}

func (h *Handler) resolveUser(ctx context.Context, projectID int64, username string) (int64, error) {
	if h.users == nil || username == "" {
		return 0, nil
	}
	user, err := h.users.FindByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("find user %q: %w", username, err)
	}
	if user == nil {
		return 0, nil
	}
	assignable, err := h.users.IsAssignable(ctx, projectID, user.ID)
	if err != nil {
		return 0, fmt.Errorf("check assignable %q: %w", username, err)
	}
	if !assignable {
		return 0, nil
	}
	return user.ID, nil
}

func (h *Handler) emit(ctx context.Context, event Event) bool {
	if err := h.dispatcher.Dispatch(ctx, event); err != nil {
		h.logger.Printf("dispatch %s project=%d failed: %v", event.Kind, event.ProjectID, err)
		return false
	}
	return true
}

func taskAttributes(task *storage.TaskRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":         task.ID,
		"project_id": task.ProjectID,
		"title":      task.Title,
		"reference":  task.Reference,
		"is_active":  task.IsActive,
	}
}
