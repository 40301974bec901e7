package model

import "math"

// Sigmoid 把实数映射到 (0, 1)：1 / (1 + exp(-z))。
func Sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Cosine 计算两个向量的余弦相似度；任一向量为零向量时返回 0。
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Clamp01 把分数截断到 [0, 1]，NaN 视为 0。
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
