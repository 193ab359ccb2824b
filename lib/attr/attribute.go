package attr

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is returned for attribute names outside the allowed grammar
var ErrInvalidName = errors.New("invalid attribute name")

// segments of [a-z0-9-]+ separated by '.' or ':'
var namePattern = regexp.MustCompile(`^[a-z0-9-]+([.:][a-z0-9-]+)*$`)

// Attribute is the immutable name of an indexed property.
type Attribute struct {
	name string
}

// Well-known attributes set by the store indexer.
var (
	Number      = Must("number")
	Text        = Must("text")
	Date        = Must("date")
	AuthorName  = Must("author.name")
	AuthorAlias = Must("author.alias")
	AuthorNS    = Must("author.ns")
	BoutNumber  = Must("bout.number")
	BoutTitle   = Must("bout.title")
	BoutDate    = Must("bout.date")
	TalksWith   = Must("talks-with")
	SeenBy      = Must("seen-by")
	Bundle      = Must("bundled.marker")
)

// Known returns the well-known attributes.
func Known() []Attribute {
	return []Attribute{
		Number, Text, Date, AuthorName, AuthorAlias, AuthorNS,
		BoutNumber, BoutTitle, BoutDate, TalksWith, SeenBy, Bundle,
	}
}

// New validates name and returns the attribute.
func New(name string) (Attribute, error) {
	if !namePattern.MatchString(name) {
		return Attribute{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return Attribute{name: name}, nil
}

// Must is like New but panics on an invalid name. It is meant for package
// level constants.
func Must(name string) Attribute {
	a, err := New(name)
	if err != nil {
		panic(err)
	}
	return a
}

// Name returns the attribute name.
func (a Attribute) Name() string { return a.name }

// IsZero reports whether a is the zero Attribute.
func (a Attribute) IsZero() bool { return a.name == "" }

func (a Attribute) String() string { return a.name }
