package gitlabhook

// Kind names an event emitted to the dispatch sink. Kinds double as the
// default publish topics.
type Kind string

const (
	KindCommit         Kind = "gitlab.webhook.commit"
	KindIssueOpened    Kind = "gitlab.webhook.issue.opened"
	KindIssueClosed    Kind = "gitlab.webhook.issue.closed"
	KindIssueReopened  Kind = "gitlab.webhook.issue.reopened"
	KindIssueCommented Kind = "gitlab.webhook.issue.commented"
)

// Event is a normalized occurrence handed to the dispatch sink.
type Event struct {
	Kind       Kind
	ProjectID  int64
	Attributes map[string]interface{}
}

// KindInfo describes an event kind for listings and automation setup.
type KindInfo struct {
	Kind    Kind     `json:"kind"`
	Title   string   `json:"title"`
	Actions []string `json:"actions"`
}

// Kinds lists every event kind with the automatic actions it usually feeds.
func Kinds() []KindInfo {
	return []KindInfo{
		{Kind: KindCommit, Title: "GitLab commit received", Actions: []string{"comment_creation", "task_close"}},
		{Kind: KindIssueOpened, Title: "GitLab issue opened", Actions: []string{"task_creation"}},
		{Kind: KindIssueClosed, Title: "GitLab issue closed", Actions: []string{"task_close"}},
		{Kind: KindIssueReopened, Title: "GitLab issue reopened", Actions: []string{"task_open"}},
		{Kind: KindIssueCommented, Title: "GitLab issue comment created", Actions: []string{"comment_creation"}},
	}
}
