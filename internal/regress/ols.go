// Package regress fits the per-sample policy regressions on daily
// observations.
package regress

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// RankTolerance is the relative singular value cutoff below which the
// design matrix is treated as rank deficient.
const RankTolerance = 1e-10

var ErrSingular = errors.New("singular design matrix")

// OLS solves min ||y - x b|| by SVD and returns b. Rank-deficient and
// underdetermined designs return ErrSingular rather than a minimum-norm
// solution, because their coefficients are not identified.
func OLS(x mat.Matrix, y mat.Vector) ([]float64, error) {
	rows, cols := x.Dims()
	if y.Len() != rows {
		return nil, fmt.Errorf("ols: %d outcomes for %d rows", y.Len(), rows)
	}
	if rows < cols {
		return nil, fmt.Errorf("%w: %d rows for %d columns", ErrSingular, rows, cols)
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: svd factorization failed", ErrSingular)
	}
	rank := svd.Rank(RankTolerance)
	if rank < cols {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrSingular, rank, cols)
	}

	var b mat.VecDense
	svd.SolveVecTo(&b, y, rank)
	out := make([]float64, cols)
	for i := range out {
		out[i] = b.AtVec(i)
	}
	return out, nil
}
