package topics_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/topic-radar/internal/cluster"
	"github.com/DeafMist/topic-radar/internal/topics"
)

func TestSilhouette(t *testing.T) {
	line := func(values ...float64) [][]float64 {
		out := make([][]float64, len(values))
		for i, v := range values {
			out[i] = []float64{v}
		}
		return out
	}

	tests := []struct {
		name   string
		x      [][]float64
		labels []int
		want   float64
	}{
		{
			name:   "separated pairs",
			x:      line(0, 1, 10, 11),
			labels: []int{0, 0, 1, 1},
			want:   (9.5/10.5 + 8.5/9.5) / 2,
		},
		{
			name:   "noise is left out",
			x:      line(0, 1, 5, 10, 11),
			labels: []int{0, 0, cluster.Noise, 1, 1},
			want:   (9.5/10.5 + 8.5/9.5) / 2,
		},
		{
			name:   "interleaved pairs",
			x:      line(0, 10, 1, 11),
			labels: []int{0, 0, 1, 1},
			want:   -0.45,
		},
		{
			name:   "singleton counts as zero",
			x:      line(0, 1, 10),
			labels: []int{0, 0, 1},
			want:   (0.9 + 8.0/9.0) / 3,
		},
		{
			name:   "single cluster",
			x:      line(0, 1, 10, 11),
			labels: []int{0, 0, 0, 0},
		},
		{
			name:   "one row per cluster",
			x:      line(0, 1, 10),
			labels: []int{0, 1, 2},
		},
		{
			name:   "all noise",
			x:      line(0, 1),
			labels: []int{cluster.Noise, cluster.Noise},
		},
		{name: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, topics.Silhouette(tt.x, tt.labels), 1e-9)
		})
	}
}
