package crud

import (
	"fmt"
)

// RowFailure records one row that a bulk operation could not write
type RowFailure struct {
	Index int
	Key   interface{}
	Err   error
}

// BulkSummary is the outcome of BulkInsert or BulkUpdate
type BulkSummary struct {
	Table     string
	Operation string
	Succeeded int
	Total     int
	Failures  []RowFailure
}

// String renders the "M/N succeeded" summary
func (s *BulkSummary) String() string {
	return fmt.Sprintf("%d/%d succeeded", s.Succeeded, s.Total)
}

// Failed returns the number of rows that were not written
func (s *BulkSummary) Failed() int {
	return len(s.Failures)
}

// Warnings renders one line per failed row
func (s *BulkSummary) Warnings() []string {
	out := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		key := ""
		if f.Key != nil {
			key = fmt.Sprintf(" (%v)", f.Key)
		}
		out = append(out, fmt.Sprintf("%s %s row %d%s: %v", s.Table, s.Operation, f.Index, key, f.Err))
	}
	return out
}
