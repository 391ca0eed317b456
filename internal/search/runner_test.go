package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrafaint/internal/testutil"
)

func TestRunner_Lifecycle(t *testing.T) {
	s := testutil.NewScene(t, testutil.DefaultScene())
	req := scanRequest(t, s)
	req.Grid.DistanceModulus = []float64{18}

	var progressed int
	req.Progress = func(done, total int) { progressed = done }

	r := NewRunner()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	assert.Equal(t, ScanStatusIdle, r.State().Status)

	require.NoError(t, r.Start(context.Background(), req))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	st, err := r.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, ScanStatusComplete, st.Status)
	assert.Equal(t, 1, st.TotalPixels)
	assert.Equal(t, 1, st.CompletedPixels)
	assert.Equal(t, 1, progressed)
	require.NotNil(t, st.Result)
	assert.NotEmpty(t, st.Result.Points)
	assert.Equal(t, fixed, *st.StartedAt)
	assert.Equal(t, fixed, *st.CompletedAt)
	assert.Empty(t, st.Error)
}

func TestRunner_StopKeepsPartialResult(t *testing.T) {
	s := testutil.NewScene(t, testutil.DefaultScene())
	req := scanRequest(t, s)

	r := NewRunner()
	require.NoError(t, r.Start(context.Background(), req))
	r.Stop()
	st, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Contains(t, []ScanStatus{ScanStatusCancelled, ScanStatusComplete}, st.Status)
	assert.NotNil(t, st.Result)
}

func TestRunner_RejectsInvalidRequest(t *testing.T) {
	r := NewRunner()
	assert.Error(t, r.Start(context.Background(), ScanRequest{}))
	assert.Equal(t, ScanStatusIdle, r.State().Status)

	st, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScanStatusIdle, st.Status)
}
