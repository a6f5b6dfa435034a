package gitlabhook

import (
	"fmt"
	"regexp"
	"strings"
)

var markdownLink = regexp.MustCompile(`\[(.*?)\]\((.+?)\)`)

// RewriteLinks prefixes the target of every Markdown link in text with
// baseURL. Absolute targets are prefixed as well.
func RewriteLinks(text, baseURL string) string {
	replacement := "[${1}](" + strings.ReplaceAll(baseURL, "$", "$$") + "${2})"
	return markdownLink.ReplaceAllString(text, replacement)
}

func commitComment(message, author, url string) string {
	return fmt.Sprintf("%s\n\n[Commit made by @%s on GitLab](%s)", message, author, url)
}

func issueDescription(description, baseURL, url string) string {
	return fmt.Sprintf("%s\n\n[GitLab Issue](%s)", RewriteLinks(description, baseURL), url)
}

func noteComment(note, baseURL, username, url string) string {
	return fmt.Sprintf("%s\n\n[By @%s on GitLab](%s)", RewriteLinks(note, baseURL), username, url)
}
