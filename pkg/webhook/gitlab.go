// Package webhook exposes the GitLab webhook endpoint.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"taskhooks/internal"
	"taskhooks/pkg/gitlabhook"

	"github.com/go-playground/webhooks/v6/gitlab"
)

// ProjectIDParam is the path wildcard naming the receiving project.
const ProjectIDParam = "project_id"

// Parser turns a verified delivery for a project into task events.
type Parser interface {
	Parse(ctx context.Context, projectID int64, raw []byte) (gitlabhook.Result, error)
}

// GitLabHandler handles incoming webhooks from GitLab.
type GitLabHandler struct {
	hook        *gitlab.Webhook
	parser      Parser
	logger      *log.Logger
	maxBody     int64
	debugEvents bool
}

var gitlabEvents = []gitlab.Event{
	gitlab.PushEvents,
	gitlab.IssuesEvents,
	gitlab.ConfidentialIssuesEvents,
	gitlab.CommentEvents,
	gitlab.ConfidentialCommentEvents,
}

// NewGitLabHandler creates a new GitLabHandler. An empty secret disables
// X-Gitlab-Token verification.
func NewGitLabHandler(secret string, parser Parser, logger *log.Logger, maxBody int64, debugEvents bool) (*GitLabHandler, error) {
	if parser == nil {
		return nil, errors.New("parser is required")
	}
	options := make([]gitlab.Option, 0, 1)
	if secret != "" {
		options = append(options, gitlab.Options.Secret(secret))
	}
	hook, err := gitlab.New(options...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &GitLabHandler{hook: hook, parser: parser, logger: logger, maxBody: maxBody, debugEvents: debugEvents}, nil
}

// ServeHTTP handles an incoming HTTP request.
func (h *GitLabHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	reqID := requestID(r)
	w.Header().Set("X-Request-Id", reqID)
	logger := internal.WithRequestID(h.logger, reqID)

	projectID, err := strconv.ParseInt(r.PathValue(ProjectIDParam), 10, 64)
	if err != nil || projectID <= 0 {
		internal.IncParseError("project_id")
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		internal.IncParseError("body")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(rawBody))

	eventName := r.Header.Get("X-Gitlab-Event")
	if h.debugEvents {
		logDebugEvent(logger, "gitlab", eventName, rawBody)
	}

	if _, err := h.hook.Parse(r, gitlabEvents...); err != nil {
		switch {
		case errors.Is(err, gitlab.ErrGitLabTokenVerificationFailed):
			internal.IncParseError("token")
			logger.Printf("gitlab token verification failed for project %d", projectID)
			w.WriteHeader(http.StatusUnauthorized)
			return
		case errors.Is(err, gitlab.ErrEventNotFound):
			logger.Printf("gitlab event %q ignored", eventName)
			writeResult(w, gitlabhook.Ignored)
			return
		case errors.Is(err, gitlab.ErrMissingGitLabEventHeader),
			errors.Is(err, gitlab.ErrInvalidHTTPMethod),
			errors.Is(err, gitlab.ErrParsingPayload):
			internal.IncParseError("payload")
			logger.Printf("gitlab parse failed: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		default:
			// Verified and subscribed; the typed decode below owns payload validation.
			logger.Printf("gitlab %q typed decode skipped: %v", eventName, err)
		}
	}

	ctx := internal.ContextWithRequestID(r.Context(), reqID)
	result, err := h.parser.Parse(ctx, projectID, rawBody)
	if err != nil {
		if foreignNote(err, rawBody) {
			logger.Printf("gitlab note on %s for project %d ignored", gitlabhook.NoteableType(rawBody), projectID)
			writeResult(w, gitlabhook.Ignored)
			return
		}
		logger.Printf("gitlab %q for project %d failed: %v", eventName, projectID, err)
		if errors.Is(err, gitlabhook.ErrMalformedPayload) || errors.Is(err, gitlabhook.ErrUnsupportedAction) {
			internal.IncParseError("event")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		internal.IncRequest("ERROR")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	logger.Printf("gitlab %q for project %d: %s", eventName, projectID, result)
	writeResult(w, result)
}

func writeResult(w http.ResponseWriter, result gitlabhook.Result) {
	internal.IncRequest(result.String())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, result.String())
}

// foreignNote reports whether err comes from a note left on something other
// than an issue, such as a merge request, commit or snippet.
func foreignNote(err error, raw []byte) bool {
	if !errors.Is(err, gitlabhook.ErrMalformedPayload) || gitlabhook.Classify(raw) != gitlabhook.CategoryComment {
		return false
	}
	kind := gitlabhook.NoteableType(raw)
	return kind != "" && kind != "Issue"
}
