package gitlabhook

import (
	"encoding/json"
	"fmt"
)

// Category is the semantic kind of a webhook delivery.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryPush
	CategoryIssue
	CategoryComment
)

func (c Category) String() string {
	switch c {
	case CategoryPush:
		return "push"
	case CategoryIssue:
		return "issue"
	case CategoryComment:
		return "comment"
	default:
		return "unknown"
	}
}

// Classify reads the object_kind discriminator of a raw payload. It never
// fails: unreadable or unrecognized payloads are CategoryUnknown.
func Classify(raw []byte) Category {
	var head struct {
		ObjectKind string `json:"object_kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return CategoryUnknown
	}
	switch head.ObjectKind {
	case "push":
		return CategoryPush
	case "issue":
		return CategoryIssue
	case "note":
		return CategoryComment
	default:
		return CategoryUnknown
	}
}

// Payload is one of *PushPayload, *IssuePayload or *CommentPayload.
type Payload interface {
	Category() Category
}

type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type Commit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	URL     string `json:"url"`
	Author  struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"author"`
}

// PushPayload is a push hook.
type PushPayload struct {
	Ref     string   `json:"ref"`
	Project Project  `json:"project"`
	Commits []Commit `json:"commits"`
}

func (*PushPayload) Category() Category { return CategoryPush }

// IssueAttributes is the object_attributes block of an issue hook.
type IssueAttributes struct {
	ID          int64   `json:"id"`
	IID         int64   `json:"iid"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	State       string  `json:"state"`
	Action      string  `json:"action"`
	AuthorID    int64   `json:"author_id"`
	AssigneeID  int64   `json:"assignee_id"`
	AssigneeIDs []int64 `json:"assignee_ids"`
}

// Assignee returns the legacy assignee_id, falling back to the first of assignee_ids.
func (a IssueAttributes) Assignee() int64 {
	if a.AssigneeID != 0 || len(a.AssigneeIDs) == 0 {
		return a.AssigneeID
	}
	return a.AssigneeIDs[0]
}

// IssuePayload is an issue (or confidential issue) hook.
type IssuePayload struct {
	User             User            `json:"user"`
	Project          Project         `json:"project"`
	ObjectAttributes IssueAttributes `json:"object_attributes"`
}

func (*IssuePayload) Category() Category { return CategoryIssue }

// NoteAttributes is the object_attributes block of a note hook.
type NoteAttributes struct {
	ID           int64  `json:"id"`
	Note         string `json:"note"`
	NoteableType string `json:"noteable_type"`
	URL          string `json:"url"`
}

// IssueRef is the issue a note was left on.
type IssueRef struct {
	ID    int64  `json:"id"`
	IID   int64  `json:"iid"`
	Title string `json:"title"`
}

// CommentPayload is a note hook. Issue is nil for notes left on merge
// requests, commits or snippets.
type CommentPayload struct {
	User             User           `json:"user"`
	Project          Project        `json:"project"`
	ObjectAttributes NoteAttributes `json:"object_attributes"`
	Issue            *IssueRef      `json:"issue"`
}

func (*CommentPayload) Category() Category { return CategoryComment }

// Decode unmarshals raw into the typed variant for category and checks the
// fields that variant cannot do without.
func Decode(category Category, raw []byte) (Payload, error) {
	switch category {
	case CategoryPush:
		var p PushPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: push: %v", ErrMalformedPayload, err)
		}
		return &p, nil
	case CategoryIssue:
		var head struct {
			Attributes json.RawMessage `json:"object_attributes"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("%w: issue: %v", ErrMalformedPayload, err)
		}
		if len(head.Attributes) == 0 || string(head.Attributes) == "null" {
			return nil, fmt.Errorf("%w: issue: missing object_attributes", ErrMalformedPayload)
		}
		var p IssuePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: issue: %v", ErrMalformedPayload, err)
		}
		return &p, nil
	case CategoryComment:
		var p CommentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: note: %v", ErrMalformedPayload, err)
		}
		if p.Issue == nil {
			return nil, fmt.Errorf("%w: note has no issue", ErrMalformedPayload)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: unknown object_kind", ErrMalformedPayload)
	}
}

// NoteableType reads object_attributes.noteable_type of a raw note hook. It
// returns "" when the payload carries none.
func NoteableType(raw []byte) string {
	var head struct {
		Attributes struct {
			NoteableType string `json:"noteable_type"`
		} `json:"object_attributes"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.Attributes.NoteableType
}
