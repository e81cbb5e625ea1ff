package indexer

import (
	"regexp"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// typeTags are checked in order; the first tag found wins and is stripped.
var typeTags = []struct {
	re   *regexp.Regexp
	kind models.ItemType
}{
	{regexp.MustCompile(`(?i)@task\b`), models.ItemTask},
	{regexp.MustCompile(`(?i)@note\b`), models.ItemNote},
	{regexp.MustCompile(`(?i)@resource\b`), models.ItemResource},
	{regexp.MustCompile(`(?i)@res\b`), models.ItemResource},
}

var (
	urlMarkers = []string{"http://", "https://", "www.", ".com", ".org", ".net", ".io", ".edu"}

	resourcePattern = wordPattern(
		"resource:", "link:", "url:", "website:", "tool:", "document:", "reference:",
		"guide:", "tutorial:", "bookmark:", "useful", "check out", "worth reading",
		"documentation", "manual", "article", "blog post", "video", "course",
	)
	taskPattern = wordPattern(
		"need to", "have to", "should", "must", "todo", "task", "complete", "finish",
		"deadline", "due", "by", "before", "schedule", "meeting", "call", "review",
		"prepare", "create", "build", "fix", "update", "send", "contact", "follow up",
	)
)

// wordPattern matches any of the phrases at word boundaries, case-insensitively.
func wordPattern(phrases ...string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		q := regexp.QuoteMeta(p)
		if strings.HasSuffix(p, ":") {
			quoted[i] = `\b` + q
		} else {
			quoted[i] = `\b` + q + `\b`
		}
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
}

// ExtractTag removes the first @task, @note, @res or @resource tag from content
// and returns the remaining text with the tagged type. The type is empty when
// content has no tag.
func ExtractTag(content string) (string, models.ItemType) {
	for _, t := range typeTags {
		if t.re.MatchString(content) {
			return strings.TrimSpace(t.re.ReplaceAllString(content, "")), t.kind
		}
	}
	return content, ""
}

// Classify guesses the item type of untagged content: links and reference
// phrases make a resource, action phrases make a task, anything else is a note.
func Classify(content string) models.ItemType {
	lower := strings.ToLower(content)
	for _, m := range urlMarkers {
		if strings.Contains(lower, m) {
			return models.ItemResource
		}
	}
	if resourcePattern.MatchString(content) {
		return models.ItemResource
	}
	if taskPattern.MatchString(content) {
		return models.ItemTask
	}
	return models.ItemNote
}

// Preprocess trims text and collapses runs of whitespace to single spaces.
func Preprocess(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
