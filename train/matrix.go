package train

import "github.com/rushteam/feedrec/model"

// newMatrix 创建 rows×cols 的零矩阵。
func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	buf := make([]float64, rows*cols)
	for i := range m {
		m[i], buf = buf[:cols:cols], buf[cols:]
	}
	return m
}

// rowNormalize 把每行除以行和；行和为 0 的行保持为 0。
func rowNormalize(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return m
	}
	out := newMatrix(len(m), len(m[0]))
	for i, row := range m {
		var sum float64
		for _, v := range row {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for j, v := range row {
			out[i][j] = v / sum
		}
	}
	return out
}

// transpose 转置矩阵。
func transpose(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return [][]float64{}
	}
	out := newMatrix(len(m[0]), len(m))
	for i, row := range m {
		for j, v := range row {
			out[j][i] = v
		}
	}
	return out
}

// cosineMatrix 计算行两两之间的余弦相似度，零行与任何行的相似度为 0。
func cosineMatrix(rows [][]float64) [][]float64 {
	n := len(rows)
	out := newMatrix(n, n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := model.Cosine(rows[i], rows[j])
			out[i][j] = s
			out[j][i] = s
		}
	}
	return out
}
