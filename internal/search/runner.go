package search

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScanStatus is the lifecycle state of a background scan.
type ScanStatus string

const (
	ScanStatusIdle      ScanStatus = "idle"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusComplete  ScanStatus = "complete"
	ScanStatusCancelled ScanStatus = "cancelled"
	ScanStatusError     ScanStatus = "error"
)

// ScanState is a snapshot of a runner.
type ScanState struct {
	Status          ScanStatus  `json:"status"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	TotalPixels     int         `json:"total_pixels"`
	CompletedPixels int         `json:"completed_pixels"`
	Error           string      `json:"error,omitempty"`
	Result          *ScanResult `json:"-"`
}

// Runner runs one grid scan at a time in the background and exposes its
// progress.
type Runner struct {
	mu     sync.RWMutex
	state  ScanState
	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// NewRunner creates an idle runner.
func NewRunner() *Runner {
	return &Runner{state: ScanState{Status: ScanStatusIdle}, now: time.Now}
}

// State returns a copy of the current state.
func (r *Runner) State() ScanState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Start launches a scan. It fails if one is already running or the request
// is invalid; errors during the scan are reported through State.
func (r *Runner) Start(ctx context.Context, req ScanRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	if _, err := req.Grid.Points(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.state.Status == ScanStatusRunning {
		r.mu.Unlock()
		return fmt.Errorf("scan already in progress")
	}
	now := r.now()
	r.state = ScanState{
		Status:      ScanStatusRunning,
		StartedAt:   &now,
		TotalPixels: len(req.Pixels),
	}
	scanCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	progress := req.Progress
	req.Progress = func(n, total int) {
		r.mu.Lock()
		r.state.CompletedPixels = n
		r.mu.Unlock()
		if progress != nil {
			progress(n, total)
		}
	}

	go func() {
		defer close(done)
		defer cancel()
		res, err := GridScan(scanCtx, req)

		r.mu.Lock()
		defer r.mu.Unlock()
		end := r.now()
		r.state.CompletedAt = &end
		r.state.Result = res
		switch {
		case err == nil:
			r.state.Status = ScanStatusComplete
		case scanCtx.Err() != nil:
			r.state.Status = ScanStatusCancelled
			r.state.Error = err.Error()
		default:
			r.state.Status = ScanStatusError
			r.state.Error = err.Error()
		}
		r.cancel = nil
	}()
	return nil
}

// Stop cancels a running scan. The partial result stays available.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Wait blocks until the current scan finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context) (ScanState, error) {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done == nil {
		return r.State(), nil
	}
	select {
	case <-done:
		return r.State(), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}
