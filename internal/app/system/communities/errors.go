// internal/app/system/communities/errors.go
package communities

import (
	"errors"
	"fmt"
)

// Kind classifies a repository failure.
type Kind int

const (
	KindUnauthenticated Kind = iota + 1
	KindAlreadyMember
	KindNotFound
	KindValidation
	KindStore
	// KindPartialWrite means one of two writes committed, the in-line
	// rollback failed, and a repair task was queued.
	KindPartialWrite
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindAlreadyMember:
		return "already_member"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindStore:
		return "store"
	case KindPartialWrite:
		return "partial_write"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrUnauthenticated = errors.New("not signed in")
	ErrAlreadyMember   = errors.New("already a member of this community")
	ErrNotFound        = errors.New("community not found")
	ErrValidation      = errors.New("invalid input")
	ErrStore           = errors.New("store failure")
	ErrPartialWrite    = errors.New("partial write")
)

var sentinels = map[Kind]error{
	KindUnauthenticated: ErrUnauthenticated,
	KindAlreadyMember:   ErrAlreadyMember,
	KindNotFound:        ErrNotFound,
	KindValidation:      ErrValidation,
	KindStore:           ErrStore,
	KindPartialWrite:    ErrPartialWrite,
}

// Error is returned by every Repository method. Message is meant for people;
// Err is the underlying cause, if any.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("communities.%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("communities.%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindName and UserMessage let opstate record the failure.
func (e *Error) KindName() string    { return e.Kind.String() }
func (e *Error) UserMessage() string { return e.Message }

func newErr(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or 0 when err is not a repository error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
