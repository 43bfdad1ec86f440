package projection

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/hyperjump/gramaudit/internal/models"
)

// PCAReducer projects onto the leading principal components. It is deterministic, ignores
// Neighbors, MinDistance and Seed, and L2-normalizes rows first when the metric is cosine.
type PCAReducer struct{}

// Reduce implements Reducer.
func (PCAReducer) Reduce(ctx context.Context, data [][]float64, cfg models.ProjectionConfig) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(data)
	if n == 0 {
		return nil, nil
	}
	d := len(data[0])

	x := mat.NewDense(n, d, nil)
	for i, row := range data {
		if cfg.Metric == models.MetricCosine {
			row = unit(row)
		}
		x.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, errors.New("principal component analysis did not converge")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	// Center, then project onto as many components as exist.
	means := make([]float64, d)
	for j := 0; j < d; j++ {
		means[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			x.Set(i, j, x.At(i, j)-means[j])
		}
	}
	_, comps := vecs.Dims()
	k := cfg.Dimensions
	if comps < k {
		k = comps
	}
	basis := vecs.Slice(0, d, 0, k).(*mat.Dense)
	canonicalSigns(basis)

	var proj mat.Dense
	proj.Mul(x, basis)

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, cfg.Dimensions)
		for j := 0; j < k; j++ {
			out[i][j] = proj.At(i, j)
		}
	}
	return out, nil
}

// canonicalSigns flips each column so its largest-magnitude loading is positive.
func canonicalSigns(m *mat.Dense) {
	r, c := m.Dims()
	for j := 0; j < c; j++ {
		best := 0.0
		for i := 0; i < r; i++ {
			if v := m.At(i, j); math.Abs(v) > math.Abs(best) {
				best = v
			}
		}
		if best < 0 {
			for i := 0; i < r; i++ {
				m.Set(i, j, -m.At(i, j))
			}
		}
	}
}

func unit(row []float64) []float64 {
	out := make([]float64, len(row))
	norm := floats.Norm(row, 2)
	if norm == 0 {
		return out
	}
	floats.ScaleTo(out, 1/norm, row)
	return out
}
