package materialize

import (
	"errors"
	"fmt"

	"github.com/agentic-research/photoman/internal/graph"
)

// ErrConversion marks a failed embedded-preview extraction.
var ErrConversion = errors.New("conversion failed")

// Stage names the pipeline step that failed.
type Stage int

const (
	StageFetch Stage = iota
	StageWrite
	StageConvert
	StageCommit
)

func (s Stage) String() string {
	switch s {
	case StageFetch:
		return "fetch"
	case StageWrite:
		return "write"
	case StageConvert:
		return "convert"
	case StageCommit:
		return "commit"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError reports which step of materializing Handle failed.
type StageError struct {
	Stage  Stage
	Handle graph.Handle
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("materialize %d: %s: %v", e.Handle, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(s Stage, h graph.Handle, err error) error {
	if s == StageConvert && !errors.Is(err, ErrConversion) {
		err = fmt.Errorf("%w: %w", ErrConversion, err)
	}
	return &StageError{Stage: s, Handle: h, Err: err}
}
