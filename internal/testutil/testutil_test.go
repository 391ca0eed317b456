package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertHelpers(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
	AssertError(t, errors.New("boom"))
}

func TestNewScene(t *testing.T) {
	cfg := DefaultScene()
	s := NewScene(t, cfg)

	require.NotNil(t, s.ROI)
	assert.Len(t, s.Objects, cfg.Field+cfg.Members)
	assert.Len(t, s.Members, cfg.Members)
	assert.False(t, s.Background.LowStatistics())

	// Truth sits on the centre of the coarse pixel.
	assert.InDelta(t, 0, s.ROI.Separation(s.Truth.Lon, s.Truth.Lat), 1e-9)
}

func TestNewScene_Deterministic(t *testing.T) {
	a := NewScene(t, DefaultScene())
	b := NewScene(t, DefaultScene())
	assert.Equal(t, a.Objects, b.Objects)
}
