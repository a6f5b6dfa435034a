package gitlabhook

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"taskhooks/pkg/storage"
)

// DefaultTaskPattern matches task references such as "fixes #42".
const DefaultTaskPattern = `#(\d+)`

// TaskFinder is the read side of the task store.
// Both lookups return (nil, nil) on a miss.
type TaskFinder interface {
	FindByID(ctx context.Context, id int64) (*storage.TaskRecord, error)
	FindByReference(ctx context.Context, projectID int64, reference string) (*storage.TaskRecord, error)
}

// Correlator links GitLab objects to internally tracked tasks.
type Correlator struct {
	tasks   TaskFinder
	pattern *regexp.Regexp
}

// NewCorrelator builds a correlator. pattern must contain a capture group
// for the task id; an empty pattern selects DefaultTaskPattern.
func NewCorrelator(tasks TaskFinder, pattern string) (*Correlator, error) {
	if tasks == nil {
		return nil, errors.New("task finder is required")
	}
	if pattern == "" {
		pattern = DefaultTaskPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("task pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("task pattern %q has no capture group", pattern)
	}
	return &Correlator{tasks: tasks, pattern: re}, nil
}

// ExtractTaskID returns the first task id referenced in text.
func (c *Correlator) ExtractTaskID(text string) (int64, bool) {
	match := c.pattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// TaskFromText resolves the task referenced in text. A text without a
// reference, or a reference to a missing task, yields nil.
func (c *Correlator) TaskFromText(ctx context.Context, text string) (*storage.TaskRecord, error) {
	id, ok := c.ExtractTaskID(text)
	if !ok {
		return nil, nil
	}
	return c.tasks.FindByID(ctx, id)
}

// TaskByReference resolves the task of projectID imported from the GitLab
// object with the given id.
func (c *Correlator) TaskByReference(ctx context.Context, projectID, externalID int64) (*storage.TaskRecord, error) {
	return c.tasks.FindByReference(ctx, projectID, strconv.FormatInt(externalID, 10))
}
