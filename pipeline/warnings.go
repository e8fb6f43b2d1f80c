package pipeline

import (
	"context"
	"fmt"
	"sync"
)

type warningsKey struct{}

// warningSink collects warnings raised by hooks while one item is processed
type warningSink struct {
	mu   sync.Mutex
	msgs []string
}

func withWarningSink(ctx context.Context) (context.Context, *warningSink) {
	sink := &warningSink{}
	return context.WithValue(ctx, warningsKey{}, sink), sink
}

func (s *warningSink) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.msgs
	s.msgs = nil
	return out
}

// Warn records a warning against the current run from inside ProcessItem or
// StoreItem. It is safe to call from goroutines the hook starts, and a no-op
// outside a run.
func Warn(ctx context.Context, format string, args ...interface{}) {
	sink, ok := ctx.Value(warningsKey{}).(*warningSink)
	if !ok {
		return
	}
	sink.mu.Lock()
	sink.msgs = append(sink.msgs, fmt.Sprintf(format, args...))
	sink.mu.Unlock()
}
