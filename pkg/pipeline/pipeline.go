// Package pipeline runs an ordered sequence of graph-rewriting passes over
// a glTF document. Passes are independently fallible: a failed pass is
// recorded and the pipeline continues, so one bad stage degrades the
// optimization instead of failing the request. Passes must be
// transactional — they stage their rewrites and commit only when the whole
// pass succeeded, leaving the document valid and re-encodable either way.
package pipeline

import (
	"context"
	"fmt"

	"github.com/qmuntal/gltf"
)

// Status classifies the outcome of one pass.
type Status int

const (
	StatusApplied Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Result is the outcome of one pass. Reason carries a human-readable note:
// the skip cause, or for applied passes an optional substitution note such
// as a fallback that ran instead of the primary transform.
type Result struct {
	Status Status
	Reason string
	Err    error
}

// Applied reports a successful pass.
func Applied() Result { return Result{Status: StatusApplied} }

// AppliedNote reports a successful pass with a substitution note.
func AppliedNote(reason string) Result { return Result{Status: StatusApplied, Reason: reason} }

// Skipped reports a pass that had nothing to do.
func Skipped(reason string) Result { return Result{Status: StatusSkipped, Reason: reason} }

// Failed reports a pass that could not apply. The document must be left in
// its pre-pass state.
func Failed(err error) Result { return Result{Status: StatusFailed, Err: err} }

// Pass is one graph rewrite with exclusive mutable access to the document.
type Pass interface {
	Name() string
	Apply(ctx context.Context, doc *gltf.Document) Result
}

// StageResult pairs a pass name with its outcome.
type StageResult struct {
	Name string
	Result
}

// StageError wraps a pass failure for reporting.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline is a fixed ordered list of passes.
type Pipeline struct {
	passes []Pass
}

// New builds a pipeline running the given passes in order.
func New(passes ...Pass) *Pipeline {
	return &Pipeline{passes: passes}
}

// Run applies every pass in order. Pass failures are recorded, never
// propagated; the only error Run returns is context cancellation, in which
// case the document must be discarded wholesale.
func (p *Pipeline) Run(ctx context.Context, doc *gltf.Document) ([]StageResult, error) {
	results := make([]StageResult, 0, len(p.passes))
	for _, pass := range p.passes {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := pass.Apply(ctx, doc)
		if res.Err != nil {
			res.Err = &StageError{Stage: pass.Name(), Err: res.Err}
		}
		results = append(results, StageResult{Name: pass.Name(), Result: res})
	}
	return results, nil
}

// Level returns the name of the highest pass that applied successfully, or
// "none". It is a reporting tag only; control flow never consults it.
func Level(results []StageResult) string {
	level := "none"
	for _, r := range results {
		if r.Status == StatusApplied {
			level = r.Name
		}
	}
	return level
}
