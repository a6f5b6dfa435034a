package gitlabhook

import (
	"errors"
	"testing"
)

// TestClassify tests the object_kind discriminator mapping.
func TestClassify(t *testing.T) {
	cases := map[string]Category{
		`{"object_kind":"push"}`:          CategoryPush,
		`{"object_kind":"issue"}`:         CategoryIssue,
		`{"object_kind":"note"}`:          CategoryComment,
		`{"object_kind":"tag_push"}`:      CategoryUnknown,
		`{"object_kind":""}`:              CategoryUnknown,
		`{"object_kind":12}`:              CategoryUnknown,
		`{"commits":[]}`:                  CategoryUnknown,
		`garbage`:                         CategoryUnknown,
		``:                                CategoryUnknown,
		`{"object_kind":"merge_request"}`: CategoryUnknown,
	}
	for raw, want := range cases {
		if got := Classify([]byte(raw)); got != want {
			t.Fatalf("classify %q: expected %s, got %s", raw, want, got)
		}
	}
}

// TestDecodeIssueRequiresAttributes tests that issue hooks without object_attributes are rejected.
func TestDecodeIssueRequiresAttributes(t *testing.T) {
	_, err := Decode(CategoryIssue, []byte(`{"object_kind":"issue"}`))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}

	payload, err := Decode(CategoryIssue, []byte(`{"object_kind":"issue","object_attributes":{"id":4,"action":"open","assignee_id":null}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	issue, ok := payload.(*IssuePayload)
	if !ok {
		t.Fatalf("expected *IssuePayload, got %T", payload)
	}
	if issue.ObjectAttributes.ID != 4 || issue.ObjectAttributes.Assignee() != 0 {
		t.Fatalf("unexpected attributes %+v", issue.ObjectAttributes)
	}
}

// TestDecodeRejectsWrongShapes tests that type mismatches surface as malformed payloads.
func TestDecodeRejectsWrongShapes(t *testing.T) {
	if _, err := Decode(CategoryPush, []byte(`{"object_kind":"push","commits":"nope"}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed push, got %v", err)
	}
	if _, err := Decode(CategoryComment, []byte(`{"object_kind":"note","issue":{"id":"x"}}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed note, got %v", err)
	}
	if _, err := Decode(CategoryUnknown, []byte(`{}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected unknown category to be rejected, got %v", err)
	}
}

// TestAssigneeFallback tests that assignee_ids backs the legacy assignee_id.
func TestAssigneeFallback(t *testing.T) {
	if got := (IssueAttributes{AssigneeID: 3, AssigneeIDs: []int64{9}}).Assignee(); got != 3 {
		t.Fatalf("expected legacy assignee 3, got %d", got)
	}
	if got := (IssueAttributes{AssigneeIDs: []int64{9, 10}}).Assignee(); got != 9 {
		t.Fatalf("expected first assignee 9, got %d", got)
	}
}

// TestNoteableType tests reading the noteable type from raw note hooks.
func TestNoteableType(t *testing.T) {
	cases := map[string]string{
		`{"object_kind":"note","object_attributes":{"noteable_type":"MergeRequest"}}`: "MergeRequest",
		`{"object_kind":"note","object_attributes":{"noteable_type":"Issue"}}`:        "Issue",
		`{"object_kind":"note","object_attributes":{}}`:                               "",
		`not json`: "",
	}
	for raw, want := range cases {
		if got := NoteableType([]byte(raw)); got != want {
			t.Fatalf("%s: expected %q, got %q", raw, want, got)
		}
	}
}
