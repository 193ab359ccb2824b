package query

import (
	"errors"
	"fmt"
)

// ErrPredicate matches every parse and compile error
var ErrPredicate = errors.New("invalid predicate")

// PredicateError locates a parse or compile error in the query text.
type PredicateError struct {
	Token  string
	Pos    int
	Reason string
}

func (e *PredicateError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid predicate at %d: %s", e.Pos, e.Reason)
	}
	return fmt.Sprintf("invalid predicate %q at %d: %s", e.Token, e.Pos, e.Reason)
}

func (e *PredicateError) Is(target error) bool {
	return target == ErrPredicate
}

func errorf(tok string, pos int, format string, args ...any) *PredicateError {
	return &PredicateError{Token: tok, Pos: pos, Reason: fmt.Sprintf(format, args...)}
}
