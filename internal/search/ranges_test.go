package search

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRangeSpec(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expected  RangeSpec
		expectErr bool
	}{
		{"valid_range", "17:19:0.5", RangeSpec{Min: 17, Max: 19, Step: 0.5}, false},
		{"with_spaces", " 1.0 : 5.0 : 0.5 ", RangeSpec{Min: 1, Max: 5, Step: 0.5}, false},
		{"negative_values", "-5:5:1", RangeSpec{Min: -5, Max: 5, Step: 1}, false},
		{"small_step", "0.0001:0.0004:0.0001", RangeSpec{Min: 0.0001, Max: 0.0004, Step: 0.0001}, false},
		{"missing_parts", "1:5", RangeSpec{}, true},
		{"too_many_parts", "1:5:1:2", RangeSpec{}, true},
		{"invalid_min", "abc:5:1", RangeSpec{}, true},
		{"invalid_max", "1:abc:1", RangeSpec{}, true},
		{"invalid_step", "1:5:abc", RangeSpec{}, true},
		{"zero_step", "1:5:0", RangeSpec{}, true},
		{"negative_step", "1:5:-1", RangeSpec{}, true},
		{"reversed", "5:1:1", RangeSpec{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRangeSpec(tc.input)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestRangeSpec_Values(t *testing.T) {
	testCases := []struct {
		name string
		spec RangeSpec
		want []float64
	}{
		{"inclusive", RangeSpec{17, 19, 0.5}, []float64{17, 17.5, 18, 18.5, 19}},
		{"off_grid_max", RangeSpec{0, 1, 0.3}, []float64{0, 0.3, 0.6, 0.9}},
		{"single", RangeSpec{2, 2, 1}, []float64{2}},
		{"tiny_step", RangeSpec{0.0001, 0.0003, 0.0001}, []float64{0.0001, 0.0002, 0.0003}},
		{"zero_step", RangeSpec{0, 1, 0}, nil},
		{"too_many", RangeSpec{0, 1, 1e-6}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.spec.Values()); diff != "" {
				t.Errorf("Values() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseParamList(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		want      []float64
		expectErr bool
	}{
		{"empty", "", nil, false},
		{"csv", "10, 12,13.5", []float64{10, 12, 13.5}, false},
		{"range", "16:18:1", []float64{16, 17, 18}, false},
		{"bad_csv", "1,x", nil, true},
		{"bad_range", "1:2", nil, true},
		{"huge_range", "0:1:0.00001", nil, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseParamList(tc.input)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExpandRanges(t *testing.T) {
	got, err := ExpandRanges([]float64{1, 2}, nil, []float64{10, 20, 30})
	require.NoError(t, err)
	want := [][]float64{
		{1, 0, 10}, {1, 0, 20}, {1, 0, 30},
		{2, 0, 10}, {2, 0, 20}, {2, 0, 30},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExpandRanges mismatch (-want +got):\n%s", diff)
	}

	big := make([]float64, 1000)
	_, err = ExpandRanges(big, big)
	assert.Error(t, err)

	none, err := ExpandRanges()
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestIsoGridPoints(t *testing.T) {
	g := IsoGrid{DistanceModulus: []float64{17, 18}, Age: []float64{12}, Z: []float64{0.0001, 0.0002}}
	pts, err := g.Points()
	require.NoError(t, err)
	require.Len(t, pts, 4)
	assert.Equal(t, 17.0, pts[0].DistanceModulus)
	assert.Equal(t, 18.0, pts[1].DistanceModulus)
	assert.Equal(t, 0.0002, pts[2].Z)

	_, err = IsoGrid{Age: []float64{12}, Z: []float64{0.0001}}.Points()
	assert.Error(t, err)
}

func TestBudget(t *testing.T) {
	assert.True(t, Budget{}.StepsLeft(1e6))
	assert.True(t, Budget{Steps: 3}.StepsLeft(2))
	assert.False(t, Budget{Steps: 3}.StepsLeft(3))
}
