package geo

import (
	"math"
	"testing"
)

func TestDistanceNM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tol                    float64
	}{
		{name: "same point", lat1: 1.26, lon1: 103.84, lat2: 1.26, lon2: 103.84, want: 0, tol: 0.001},
		// One degree of latitude is 60 nm by definition of the nautical mile.
		{name: "one degree latitude", lat1: 0, lon1: 0, lat2: 1, lon2: 0, want: 60.04, tol: 0.2},
		// Singapore to Port Klang, roughly 200 nm.
		{name: "singapore to port klang", lat1: 1.2644, lon1: 103.822, lat2: 3.0, lon2: 101.4, want: 177, tol: 5},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceNM(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tol {
				t.Fatalf("DistanceNM = %.2f, want %.2f ±%.2f", got, tt.want, tt.tol)
			}
		})
	}
}

func TestDistanceSymmetric(t *testing.T) {
	t.Parallel()
	a := DistanceNM(51.9, 4.4, 53.5, 9.9)
	b := DistanceNM(53.5, 9.9, 51.9, 4.4)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", a, b)
	}
}
