package marshal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ollama/augpipe/ml"
)

// LabelRangeError is returned for a label outside [0, NumClasses).
type LabelRangeError struct {
	Sample     int
	Label      int
	NumClasses int
}

func (e *LabelRangeError) Error() string {
	return fmt.Sprintf("marshal: sample %d: label %d out of range [0, %d)", e.Sample, e.Label, e.NumClasses)
}

// OneHot encodes every label as an indicator vector of length numClasses.
func OneHot(labels []int, numClasses int) ([][]float64, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("marshal: num classes must be positive, got %d", numClasses)
	}

	out := make([][]float64, len(labels))
	for i, l := range labels {
		if l < 0 || l >= numClasses {
			return nil, &LabelRangeError{Sample: i, Label: l, NumClasses: numClasses}
		}
		out[i] = make([]float64, numClasses)
		out[i][l] = 1
	}
	return out, nil
}

// DecodeOneHot recovers the labels from indicator vectors.
func DecodeOneHot(vecs [][]float64) ([]int, error) {
	out := make([]int, len(vecs))
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("marshal: sample %d: empty vector", i)
		}
		if s := floats.Sum(v); math.Abs(s-1) > 1e-6 {
			return nil, fmt.Errorf("marshal: sample %d: vector sums to %g", i, s)
		}
		idx := floats.MaxIdx(v)
		if v[idx] != 1 {
			return nil, fmt.Errorf("marshal: sample %d: not a one-hot vector", i)
		}
		out[i] = idx
	}
	return out, nil
}

// ChannelStats returns mean and standard deviation per channel of t.
func ChannelStats(t *ml.Tensor) (mean, std []float64) {
	vals := t.Floats()
	n, c := t.BatchSize(), t.Channels()
	hw := t.Height() * t.Width()

	mean = make([]float64, c)
	std = make([]float64, c)
	col := make([]float64, 0, n*hw)
	for ch := range c {
		col = col[:0]
		for s := range n {
			base := s * hw * c
			for p := range hw {
				idx := base + p*c + ch
				if t.Layout() == ml.LayoutNCHW {
					idx = base + ch*hw + p
				}
				col = append(col, float64(vals[idx]))
			}
		}
		mean[ch], std[ch] = stat.PopMeanStdDev(col, nil)
	}
	return mean, std
}
