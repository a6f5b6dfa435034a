package gitlabhook

import (
	"context"
	"testing"
)

// TestRewriteLinks tests that every Markdown link target gets the base URL.
func TestRewriteLinks(t *testing.T) {
	base := "https://gitlab.example.com/group/app"

	got := RewriteLinks("see [docs](/wiki/x) and ![shot](/uploads/a.png)", base)
	want := "see [docs](https://gitlab.example.com/group/app/wiki/x) and ![shot](https://gitlab.example.com/group/app/uploads/a.png)"
	if got != want {
		t.Fatalf("unexpected rewrite:\n got %q\nwant %q", got, want)
	}

	if got := RewriteLinks("no links here", base); got != "no links here" {
		t.Fatalf("expected text untouched, got %q", got)
	}
}

// TestRewriteLinksPrefixesAbsoluteTargets tests that absolute targets are prefixed unconditionally.
func TestRewriteLinksPrefixesAbsoluteTargets(t *testing.T) {
	got := RewriteLinks("[site](https://example.org)", "https://gitlab.example.com")
	if got != "[site](https://gitlab.example.comhttps://example.org)" {
		t.Fatalf("unexpected rewrite %q", got)
	}
}

// TestRewriteLinksLiteralBaseURL tests that a dollar sign in the base URL is not read as a group.
func TestRewriteLinksLiteralBaseURL(t *testing.T) {
	got := RewriteLinks("[a](/b)", "https://host/$1")
	if got != "[a](https://host/$1/b)" {
		t.Fatalf("unexpected rewrite %q", got)
	}
}

// TestExtractTaskID tests the default and custom task reference markers.
func TestExtractTaskID(t *testing.T) {
	correlator, err := NewCorrelator(&stubTasks{}, "")
	if err != nil {
		t.Fatalf("new correlator: %v", err)
	}
	if id, ok := correlator.ExtractTaskID("fix task #42 and #43"); !ok || id != 42 {
		t.Fatalf("expected 42, got %d %v", id, ok)
	}
	for _, text := range []string{"no reference", "#", "#0", "#99999999999999999999"} {
		if _, ok := correlator.ExtractTaskID(text); ok {
			t.Fatalf("expected no task id in %q", text)
		}
	}

	custom, err := NewCorrelator(&stubTasks{}, `(?i)task-(\d+)`)
	if err != nil {
		t.Fatalf("new custom correlator: %v", err)
	}
	if id, ok := custom.ExtractTaskID("closes TASK-7 (#3)"); !ok || id != 7 {
		t.Fatalf("expected 7, got %d %v", id, ok)
	}
}

// TestNewCorrelatorValidatesPattern tests that patterns need a capture group.
func TestNewCorrelatorValidatesPattern(t *testing.T) {
	if _, err := NewCorrelator(&stubTasks{}, `#\d+`); err == nil {
		t.Fatalf("expected error for pattern without group")
	}
	if _, err := NewCorrelator(&stubTasks{}, `#(\d+`); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
	if _, err := NewCorrelator(nil, ""); err == nil {
		t.Fatalf("expected error for missing finder")
	}
}

// TestTaskByReferenceIsExact tests that reference lookups use the decimal issue id.
func TestTaskByReferenceIsExact(t *testing.T) {
	correlator, err := NewCorrelator(fixtureTasks(), "")
	if err != nil {
		t.Fatalf("new correlator: %v", err)
	}
	task, err := correlator.TaskByReference(context.Background(), 7, 103)
	if err != nil || task == nil || task.ID != 5 {
		t.Fatalf("expected task 5, got %+v %v", task, err)
	}
	task, err = correlator.TaskByReference(context.Background(), 7, 10)
	if err != nil || task != nil {
		t.Fatalf("expected no match, got %+v %v", task, err)
	}
}
