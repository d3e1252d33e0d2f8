package graph

import "errors"

// ErrProgramming classifies misuse of the cache: unknown handles and
// directory-only or leaf-only operations applied to the wrong kind.
// Every sentinel below matches it through errors.Is.
var ErrProgramming = errors.New("programming error")

var (
	ErrNotFound          = programmingError("entry not found")
	ErrNotDirectory      = programmingError("entry is not a directory")
	ErrIsDirectory       = programmingError("entry is a directory")
	ErrDuplicateRemoteID = programmingError("remote id already mapped")
	ErrDuplicateHandle   = programmingError("handle already in use")
)

type kindError struct {
	msg string
}

func programmingError(msg string) error { return &kindError{msg: msg} }

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == ErrProgramming }
