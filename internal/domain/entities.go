// Package domain holds the core types, error taxonomy and ports shared by
// the query, export and retrieval use cases.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/go-gota/gota/dataframe"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrQueryFailed       = errors.New("query failed")
	ErrUnavailable       = errors.New("database unavailable")
	ErrTooManyRows       = errors.New("too many rows")
	ErrInternal          = errors.New("internal error")
)

// Context is an alias so ports read the same across adapters.
type Context = context.Context

// Checkpoint records how far a retrieval run got.
// Complete is false while the period starting at LastProcessed is being written.
type Checkpoint struct {
	LastProcessed time.Time `json:"last_processed"`
	Complete      bool      `json:"complete"`
}

// Decision is the caller's answer when a retrieval finds an existing checkpoint.
type Decision string

const (
	DecisionContinue  Decision = "continue"
	DecisionOverwrite Decision = "overwrite"
	DecisionExit      Decision = "exit"
)

// ParseDecision accepts the long names and the single-letter answers c/o/e.
func ParseDecision(s string) (Decision, bool) {
	switch s {
	case "c", "continue":
		return DecisionContinue, true
	case "o", "overwrite":
		return DecisionOverwrite, true
	case "e", "exit":
		return DecisionExit, true
	}
	return "", false
}

// Ports

// Querier executes a single SQL statement and materializes the result set.
type Querier interface {
	Fetch(ctx Context, sql string, args ...any) (dataframe.DataFrame, error)
}

// CheckpointStore persists retrieval progress for one save location.
type CheckpointStore interface {
	Load(ctx Context) (Checkpoint, bool, error)
	Save(ctx Context, cp Checkpoint) error
	Clear(ctx Context) error
}

// Uploader copies an exported file to remote storage and returns its URL.
type Uploader interface {
	Upload(ctx Context, localPath string) (string, error)
}

// Prompter decides how to proceed when a checkpoint already exists.
type Prompter interface {
	Decide(ctx Context, cp Checkpoint) (Decision, error)
}
