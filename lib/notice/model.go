package notice

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Identity is a person taking part in bouts, named by a URN such as
// "urn:test:alice". The second segment is the namespace.
type Identity string

// Valid reports whether the URN has the form urn:<ns>:<name>.
func (i Identity) Valid() bool {
	parts := strings.SplitN(string(i), ":", 3)
	return len(parts) == 3 && parts[0] == "urn" && parts[1] != "" && parts[2] != ""
}

// Namespace returns the namespace segment of the URN, or "" if invalid.
func (i Identity) Namespace() string {
	if !i.Valid() {
		return ""
	}
	return strings.SplitN(string(i), ":", 3)[1]
}

func (i Identity) String() string { return string(i) }

// Participant is an identity's membership in a bout.
type Participant struct {
	Identity  Identity
	Leader    bool
	Confirmed bool
}

// Bout is a conversation.
type Bout struct {
	Number       int64
	Date         time.Time
	Title        string
	Participants []Participant
}

// Identities returns the sorted URNs of all participants.
func (b Bout) Identities() []string {
	out := make([]string, 0, len(b.Participants))
	for _, p := range b.Participants {
		out = append(out, string(p.Identity))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Marker is the bundle marker of the bout, its sorted participant list.
// Bouts with the same participants share a marker.
func (b Bout) Marker() string {
	return strings.Join(b.Identities(), " ")
}

func (b Bout) validate() error {
	if b.Number <= 0 {
		return fmt.Errorf("%w: bout number %d", ErrInvalid, b.Number)
	}
	for _, p := range b.Participants {
		if !p.Identity.Valid() {
			return fmt.Errorf("%w: participant %q of bout:%d", ErrInvalid, p.Identity, b.Number)
		}
	}
	return nil
}

// Message is one message posted into a bout.
type Message struct {
	Number int64
	Author Identity
	Text   string
	Date   time.Time
}

func (m Message) validate() error {
	if m.Number <= 0 {
		return fmt.Errorf("%w: message number %d", ErrInvalid, m.Number)
	}
	if !m.Author.Valid() {
		return fmt.Errorf("%w: author %q of message:%d", ErrInvalid, m.Author, m.Number)
	}
	return nil
}
