package validate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Chain runs validators in order and merges their results.
// An empty chain accepts every item.
type Chain struct {
	validators       []Validator
	stopOnFirstError bool
	logger           *zap.SugaredLogger
}

// ChainOption configures a Chain
type ChainOption func(*Chain)

// StopOnFirstError makes the chain return after the first validator that reports an error
func StopOnFirstError() ChainOption {
	return func(c *Chain) { c.stopOnFirstError = true }
}

// WithLogger sets the logger used to report recovered validator panics
func WithLogger(l *zap.SugaredLogger) ChainOption {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewChain builds a chain over validators
func NewChain(validators []Validator, opts ...ChainOption) *Chain {
	c := &Chain{logger: zap.NewNop().Sugar()}
	for _, v := range validators {
		if v != nil {
			c.validators = append(c.validators, v)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add appends validators to the chain
func (c *Chain) Add(validators ...Validator) *Chain {
	for _, v := range validators {
		if v != nil {
			c.validators = append(c.validators, v)
		}
	}
	return c
}

// Len returns the number of validators in the chain
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.validators)
}

// Validate runs the chain. Errors and warnings are concatenated in
// validator order and numeric scores are averaged.
func (c *Chain) Validate(ctx context.Context, item map[string]interface{}) Result {
	merged := Valid()
	if c == nil {
		return merged
	}

	var sum float64
	var scored int
	for _, v := range c.validators {
		r := c.runOne(ctx, v, item)
		merged.Errors = append(merged.Errors, r.Errors...)
		merged.Warnings = append(merged.Warnings, r.Warnings...)
		if r.Score != nil {
			sum += *r.Score
			scored++
		}
		if c.stopOnFirstError && len(r.Errors) > 0 {
			break
		}
	}
	if scored > 0 {
		merged.Score = score(sum / float64(scored))
	}
	return merged.finish()
}

// runOne converts a panicking validator into an error entry
func (c *Chain) runOne(ctx context.Context, v Validator, item map[string]interface{}) (r Result) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Errorw("Validator panicked", "validator", fmt.Sprintf("%T", v), "panic", p)
			r = Invalid(fmt.Sprintf("validation error: %T panicked: %v", v, p))
		}
	}()
	r = v.Validate(ctx, item)
	// A validator that reports errors is invalid regardless of its own flag
	if len(r.Errors) > 0 {
		r.IsValid = false
	}
	return r
}
