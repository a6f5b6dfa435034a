package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskhooks/internal"
	"taskhooks/pkg/dispatch"
	"taskhooks/pkg/gitlabhook"
	"taskhooks/pkg/storage"
	"taskhooks/pkg/storage/tasks"
	"taskhooks/pkg/storage/users"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type pipeline struct {
	mux    *http.ServeMux
	pubSub *gochannel.GoChannel
	taskID int64
	userID int64
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)

	cfg := storage.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "taskhooks.db"), AutoMigrate: true}
	db, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close(db) })
	taskStore, err := tasks.New(db, cfg)
	if err != nil {
		t.Fatalf("task store: %v", err)
	}
	userStore, err := users.New(db, cfg)
	if err != nil {
		t.Fatalf("user store: %v", err)
	}

	taskID, err := taskStore.UpsertTask(ctx, storage.TaskRecord{ProjectID: 7, Title: "Imported issue", Reference: "1001", IsActive: true})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	userID, err := userStore.UpsertUser(ctx, storage.UserRecord{Username: "jane", Name: "Jane"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := userStore.AddMember(ctx, storage.MemberRecord{ProjectID: 7, UserID: userID, Role: storage.RoleMember}); err != nil {
		t.Fatalf("seed member: %v", err)
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	driver := "pipeline-" + strings.ReplaceAll(t.Name(), "/", "-")
	internal.RegisterPublisherDriver(driver, func(cfg internal.WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return pubSub, nil, nil
	})
	publisher, err := internal.NewPublisher(internal.WatermillConfig{Driver: driver})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	t.Cleanup(func() { _ = publisher.Close() })

	dispatcher, err := dispatch.New(nil, publisher, quiet)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	correlator, err := gitlabhook.NewCorrelator(taskStore, "")
	if err != nil {
		t.Fatalf("correlator: %v", err)
	}
	handler, err := gitlabhook.NewHandler(correlator, userStore, dispatcher, quiet)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	return &pipeline{
		mux:    newServer(t, "secret", handler, 1<<20),
		pubSub: pubSub,
		taskID: taskID,
		userID: userID,
	}
}

func (p *pipeline) next(t *testing.T, topic string) internal.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := p.pubSub.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	select {
	case msg := <-msgs:
		msg.Ack()
		var event internal.Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return event
	case <-ctx.Done():
		t.Fatalf("no event on %s", topic)
	}
	return internal.Event{}
}

// TestPipelineCommit tests a push delivery end to end, from HTTP to the published envelope.
func TestPipelineCommit(t *testing.T) {
	p := newPipeline(t)
	body := `{"object_kind":"push","ref":"refs/heads/main","project":{"id":1,"name":"demo","web_url":"https://gitlab.example.com/g/demo"},` +
		`"commits":[{"id":"a1","message":"Fix #` + jsonInt(p.taskID) + `","url":"https://gitlab.example.com/g/demo/-/commit/a1","author":{"name":"Jane","email":"jane@example.com"}}]}`

	rec := deliver(p.mux, "/webhook/gitlab/7", "Push Hook", "secret", body)
	if rec.Code != http.StatusOK || rec.Body.String() != "PARSED" {
		t.Fatalf("expected 200 PARSED, got %d %q", rec.Code, rec.Body.String())
	}

	event := p.next(t, string(gitlabhook.KindCommit))
	if event.ProjectID != 7 || event.Provider != "gitlab" {
		t.Fatalf("unexpected envelope %+v", event)
	}
	if event.RequestID != rec.Header().Get("X-Request-Id") {
		t.Fatalf("expected request id %q on event, got %q", rec.Header().Get("X-Request-Id"), event.RequestID)
	}
	comment, _ := event.Data["comment"].(string)
	if !strings.HasSuffix(comment, "[Commit made by @Jane on GitLab](https://gitlab.example.com/g/demo/-/commit/a1)") {
		t.Fatalf("unexpected comment %q", comment)
	}
}

// TestPipelineCommentAndClose tests that issue notes and closes reach their kind topics.
func TestPipelineCommentAndClose(t *testing.T) {
	p := newPipeline(t)

	note := `{"object_kind":"note","user":{"id":3,"name":"Jane","username":"jane"},` +
		`"project":{"id":1,"name":"demo","web_url":"https://gitlab.example.com/g/demo"},` +
		`"object_attributes":{"id":555,"note":"See [log](/uploads/x.txt)","noteable_type":"Issue","url":"https://gitlab.example.com/g/demo/-/issues/4#note_555"},` +
		`"issue":{"id":1001,"iid":4,"title":"Broken login"}}`
	rec := deliver(p.mux, "/webhook/gitlab/7", "Note Hook", "secret", note)
	if rec.Code != http.StatusOK || rec.Body.String() != "PARSED" {
		t.Fatalf("expected 200 PARSED, got %d %q", rec.Code, rec.Body.String())
	}
	event := p.next(t, string(gitlabhook.KindIssueCommented))
	if userID, _ := event.Data["user_id"].(float64); int64(userID) != p.userID {
		t.Fatalf("expected user %d, got %v", p.userID, event.Data["user_id"])
	}
	if comment, _ := event.Data["comment"].(string); !strings.HasPrefix(comment, "See [log](https://gitlab.example.com/g/demo/uploads/x.txt)") {
		t.Fatalf("unexpected comment %q", comment)
	}

	closed := `{"object_kind":"issue","user":{"id":3,"name":"Jane","username":"jane"},` +
		`"project":{"id":1,"name":"demo","web_url":"https://gitlab.example.com/g/demo"},` +
		`"object_attributes":{"id":1001,"iid":4,"title":"Broken login","action":"close","author_id":3,"assignee_ids":[3],"url":"https://gitlab.example.com/g/demo/-/issues/4"}}`
	rec = deliver(p.mux, "/webhook/gitlab/7", "Issue Hook", "secret", closed)
	if rec.Code != http.StatusOK || rec.Body.String() != "PARSED" {
		t.Fatalf("expected 200 PARSED, got %d %q", rec.Code, rec.Body.String())
	}
	event = p.next(t, string(gitlabhook.KindIssueClosed))
	if taskID, _ := event.Data["task_id"].(float64); int64(taskID) != p.taskID {
		t.Fatalf("expected task %d, got %v", p.taskID, event.Data["task_id"])
	}
	if assignee, _ := event.Data["assignee_id"].(float64); assignee != 3 {
		t.Fatalf("expected assignee fallback 3, got %v", event.Data["assignee_id"])
	}
}

// TestPipelineOtherProjectIsIgnored tests that deliveries for another project do not reach its tasks.
func TestPipelineOtherProjectIsIgnored(t *testing.T) {
	p := newPipeline(t)
	closed := `{"object_kind":"issue","project":{"id":1,"web_url":"https://gitlab.example.com/g/demo"},` +
		`"object_attributes":{"id":1001,"iid":4,"action":"close"}}`

	rec := deliver(p.mux, "/webhook/gitlab/8", "Issue Hook", "secret", closed)
	if rec.Code != http.StatusOK || rec.Body.String() != "IGNORED" {
		t.Fatalf("expected 200 IGNORED, got %d %q", rec.Code, rec.Body.String())
	}
}

// TestPipelineIssueHooks tests full GitLab issue deliveries, due dates and labels included.
func TestPipelineIssueHooks(t *testing.T) {
	for _, header := range []string{"Issue Hook", "Confidential Issue Hook"} {
		t.Run(header, func(t *testing.T) {
			p := newPipeline(t)

			rec := deliver(p.mux, "/webhook/gitlab/7", header, "secret", fixture(t, "issue_open.json"))
			if rec.Code != http.StatusOK || rec.Body.String() != "PARSED" {
				t.Fatalf("open: expected 200 PARSED, got %d %q", rec.Code, rec.Body.String())
			}
			opened := p.next(t, string(gitlabhook.KindIssueOpened))
			if ref, _ := opened.Data["reference"].(float64); ref != 2002 {
				t.Fatalf("expected reference 2002, got %v", opened.Data["reference"])
			}
			if title, _ := opened.Data["title"].(string); title != "Export fails for large boards" {
				t.Fatalf("unexpected title %q", title)
			}
			if assignee, _ := opened.Data["assignee_id"].(float64); assignee != 3 {
				t.Fatalf("expected assignee 3, got %v", opened.Data["assignee_id"])
			}
			description, _ := opened.Data["description"].(string)
			if !strings.HasPrefix(description, "Stack trace in [trace](https://gitlab.example.com/g/demo/uploads/abc/trace.txt)") ||
				!strings.HasSuffix(description, "[GitLab Issue](https://gitlab.example.com/g/demo/-/issues/5)") {
				t.Fatalf("unexpected description %q", description)
			}

			rec = deliver(p.mux, "/webhook/gitlab/7", header, "secret", fixture(t, "issue_close.json"))
			if rec.Code != http.StatusOK || rec.Body.String() != "PARSED" {
				t.Fatalf("close: expected 200 PARSED, got %d %q", rec.Code, rec.Body.String())
			}
			closed := p.next(t, string(gitlabhook.KindIssueClosed))
			if taskID, _ := closed.Data["task_id"].(float64); int64(taskID) != p.taskID {
				t.Fatalf("expected task %d, got %v", p.taskID, closed.Data["task_id"])
			}
		})
	}
}

// TestPipelineNoteHooks tests full GitLab note deliveries on issues and merge requests.
func TestPipelineNoteHooks(t *testing.T) {
	for _, header := range []string{"Note Hook", "Confidential Note Hook"} {
		t.Run(header, func(t *testing.T) {
			p := newPipeline(t)

			rec := deliver(p.mux, "/webhook/gitlab/7", header, "secret", fixture(t, "note_merge_request.json"))
			if rec.Code != http.StatusOK || rec.Body.String() != "IGNORED" {
				t.Fatalf("merge request note: expected 200 IGNORED, got %d %q", rec.Code, rec.Body.String())
			}

			rec = deliver(p.mux, "/webhook/gitlab/7", header, "secret", fixture(t, "note_issue.json"))
			if rec.Code != http.StatusOK || rec.Body.String() != "PARSED" {
				t.Fatalf("issue note: expected 200 PARSED, got %d %q", rec.Code, rec.Body.String())
			}
			event := p.next(t, string(gitlabhook.KindIssueCommented))
			if ref, _ := event.Data["reference"].(float64); ref != 1241 {
				t.Fatalf("expected the issue note first on the topic, got reference %v", event.Data["reference"])
			}
			if userID, _ := event.Data["user_id"].(float64); int64(userID) != p.userID {
				t.Fatalf("expected user %d, got %v", p.userID, event.Data["user_id"])
			}
			comment, _ := event.Data["comment"].(string)
			if comment != "Reproduced, see [log](https://gitlab.example.com/g/demo/uploads/def/login.log)\n\n[By @jane on GitLab](https://gitlab.example.com/g/demo/-/issues/4#note_1241)" {
				t.Fatalf("unexpected comment %q", comment)
			}
		})
	}
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(raw)
}

func jsonInt(n int64) string {
	out, _ := json.Marshal(n)
	return string(out)
}
