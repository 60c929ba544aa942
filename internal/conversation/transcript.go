package conversation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Transcript is a rendered plain-text export of a thread.
type Transcript struct {
	Filename string `json:"filename"`
	Body     string `json:"body"`
}

var (
	whitespace   = regexp.MustCompile(`\s+`)
	unsafeInName = regexp.MustCompile(`[\s/\\:]+`)
)

// fileStem turns title into a single path element. Separators and leading
// dots are removed so the name cannot climb out of its directory.
func fileStem(title string) string {
	stem := unsafeInName.ReplaceAllString(strings.TrimSpace(title), "_")
	return strings.TrimLeft(stem, ".")
}

// Export renders messages under title. name resolves each message's sender
// display name. Every message occupies exactly one line.
func Export(title string, messages []Message, name func(Message) string, now time.Time) Transcript {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	fmt.Fprintf(&b, "Exported on: %s\n\n", now.Format("2006-01-02 15:04:05"))
	for _, m := range messages {
		content := strings.TrimSpace(whitespace.ReplaceAllString(m.Content, " "))
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), name(m), content)
	}

	return Transcript{
		Filename: fmt.Sprintf("%s_%s.txt", fileStem(title), now.Format("2006-01-02")),
		Body:     b.String(),
	}
}
