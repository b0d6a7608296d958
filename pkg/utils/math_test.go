package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	NormalizeL2(x)
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v", x)
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}

func TestMinMax(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"empty", nil, nil},
		{"spread", []float64{2, 4, 6}, []float64{0, 0.5, 1}},
		{"all tied", []float64{0.3, 0.3}, []float64{1, 1}},
		{"single", []float64{7}, []float64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			MinMax(tt.in)
			for i := range tt.want {
				if math.Abs(tt.in[i]-tt.want[i]) > 1e-9 {
					t.Errorf("index %d = %v, want %v", i, tt.in[i], tt.want[i])
				}
			}
		})
	}
}

func TestClamp01(t *testing.T) {
	if Clamp01(-0.2) != 0 || Clamp01(1.3) != 1 || Clamp01(0.4) != 0.4 {
		t.Error("Clamp01 out of range")
	}
}
