package train

import (
	"context"
	"math"
	"math/rand/v2"
)

// nmfOptions 是非负矩阵分解参数。
type nmfOptions struct {
	Components int
	MaxIter    int
	Tol        float64
	Seed       uint64
}

const nmfEpsilon = 1e-10

// factorize 用乘法更新规则求解 V ≈ W·H，W 为 U×K，H 为 K×I，元素均非负。
// 初始化为按 sqrt(mean(V)/K) 缩放的种子随机数，同一输入与种子结果确定。
// 每 10 轮检查一次重构误差，相对下降小于 Tol 时提前结束。
func factorize(ctx context.Context, v [][]float64, opts nmfOptions) (w, h [][]float64, err error) {
	rows := len(v)
	if rows == 0 || opts.Components <= 0 {
		return [][]float64{}, [][]float64{}, nil
	}
	cols := len(v[0])
	k := opts.Components

	var mean float64
	for _, row := range v {
		for _, x := range row {
			mean += x
		}
	}
	mean /= float64(rows * cols)
	avg := math.Sqrt(mean / float64(k))

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	h = newMatrix(k, cols)
	w = newMatrix(rows, k)
	for i := range h {
		for j := range h[i] {
			h[i][j] = avg * math.Abs(rng.NormFloat64())
		}
	}
	for i := range w {
		for j := range w[i] {
			w[i][j] = avg * math.Abs(rng.NormFloat64())
		}
	}

	initial := reconstructionError(v, w, h)
	prev := initial
	for iter := 1; iter <= opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		updateH(v, w, h)
		updateW(v, w, h)

		if opts.Tol > 0 && iter%10 == 0 && initial > 0 {
			cur := reconstructionError(v, w, h)
			if (prev-cur)/initial < opts.Tol {
				break
			}
			prev = cur
		}
	}
	return w, h, nil
}

// updateH: H ← H ⊙ (WᵀV) / (WᵀW·H)
func updateH(v, w, h [][]float64) {
	k, cols := len(h), len(h[0])
	wt := transpose(w)
	wtv := newMatrix(k, cols)
	for a := 0; a < k; a++ {
		for i, x := range wt[a] {
			if x == 0 {
				continue
			}
			for j, vij := range v[i] {
				wtv[a][j] += x * vij
			}
		}
	}
	wtw := newMatrix(k, k)
	for a := 0; a < k; a++ {
		for b := 0; b < k; b++ {
			var s float64
			for i := range w {
				s += wt[a][i] * wt[b][i]
			}
			wtw[a][b] = s
		}
	}
	for a := 0; a < k; a++ {
		for j := 0; j < cols; j++ {
			var denom float64
			for b := 0; b < k; b++ {
				denom += wtw[a][b] * h[b][j]
			}
			h[a][j] *= wtv[a][j] / (denom + nmfEpsilon)
		}
	}
}

// updateW: W ← W ⊙ (V·Hᵀ) / (W·H·Hᵀ)
func updateW(v, w, h [][]float64) {
	rows, k := len(w), len(h)
	vht := newMatrix(rows, k)
	for i := 0; i < rows; i++ {
		for a := 0; a < k; a++ {
			var s float64
			for j, vij := range v[i] {
				s += vij * h[a][j]
			}
			vht[i][a] = s
		}
	}
	hht := newMatrix(k, k)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			var s float64
			for j := range h[a] {
				s += h[a][j] * h[b][j]
			}
			hht[a][b] = s
			hht[b][a] = s
		}
	}
	for i := 0; i < rows; i++ {
		for a := 0; a < k; a++ {
			var denom float64
			for b := 0; b < k; b++ {
				denom += w[i][b] * hht[b][a]
			}
			w[i][a] *= vht[i][a] / (denom + nmfEpsilon)
		}
	}
}

// reconstructionError 返回 ||V - W·H||_F。
func reconstructionError(v, w, h [][]float64) float64 {
	var sum float64
	for i, row := range v {
		for j, x := range row {
			var approx float64
			for a := range h {
				approx += w[i][a] * h[a][j]
			}
			d := x - approx
			sum += d * d
		}
	}
	return math.Sqrt(sum)
}
