// Package validate composes independent per-item checks into one verdict.
//
// A Validator never returns an error and never panics to its caller:
// everything it has to say goes into the Result. Warnings never invalidate
// an item, only errors do.
package validate

import (
	"context"
	"fmt"
)

// Result is the verdict of one validator, or of a whole Chain
type Result struct {
	IsValid  bool
	Errors   []string
	Warnings []string
	Score    *float64
}

// Valid returns an empty passing result
func Valid() Result {
	return Result{IsValid: true}
}

// Invalid returns a failing result carrying msgs as errors
func Invalid(msgs ...string) Result {
	return Result{IsValid: false, Errors: msgs}
}

// Errorf appends an error and marks the result invalid
func (r *Result) Errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.IsValid = false
}

// Warnf appends a warning
func (r *Result) Warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// finish derives IsValid from the collected errors
func (r Result) finish() Result {
	r.IsValid = len(r.Errors) == 0
	return r
}

// Validator checks one item
type Validator interface {
	Validate(ctx context.Context, item map[string]interface{}) Result
}

// Func adapts a plain function to Validator
type Func func(ctx context.Context, item map[string]interface{}) Result

// Validate calls f
func (f Func) Validate(ctx context.Context, item map[string]interface{}) Result {
	return f(ctx, item)
}

func score(v float64) *float64 {
	return &v
}
