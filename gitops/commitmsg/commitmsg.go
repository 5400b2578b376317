package commitmsg

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is returned for a message that does not follow
// the convention.
var ErrInvalid = errors.New(
	"invalid commit message, expected <type>: <TICKET-ID> <message>",
)

// Accepted types are feat, fix, docs and release.
var pattern = regexp.MustCompile(
	`^(feat|fix|docs|release): ([A-Z]+-[0-9]+) (.+)`,
)

// Message is a parsed commit message.
type Message struct {
	Type    string
	Ticket  string
	Summary string
}

// Parse splits the first line of msg into its type,
// ticket and summary. The body is ignored.
func Parse(msg string) (Message, error) {
	m := pattern.FindStringSubmatch(msg)
	if m == nil {
		first, _, _ := strings.Cut(msg, "\n")

		return Message{}, fmt.Errorf("%w: %q", ErrInvalid, first)
	}

	return Message{
		Type:    m[1],
		Ticket:  m[2],
		Summary: m[3],
	}, nil
}

// Validate reports whether msg follows the convention.
func Validate(msg string) error {
	_, err := Parse(msg)

	return err
}
