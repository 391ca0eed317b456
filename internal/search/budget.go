package search

import (
	"context"
	"time"
)

// Budget bounds a run. Zero values mean unlimited. Runs stop cooperatively
// when the budget is spent and return what they have produced so far.
type Budget struct {
	Steps   int           // ensemble steps
	Timeout time.Duration // wall clock
}

// Context derives a context that expires with the wall-clock budget.
func (b Budget) Context(parent context.Context) (context.Context, context.CancelFunc) {
	if b.Timeout > 0 {
		return context.WithTimeout(parent, b.Timeout)
	}
	return context.WithCancel(parent)
}

// StepsLeft reports whether another step fits in the budget after done steps.
func (b Budget) StepsLeft(done int) bool {
	return b.Steps <= 0 || done < b.Steps
}
