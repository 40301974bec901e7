package train

import (
	"math"

	"github.com/rushteam/feedrec/model"
)

// fitScaler 按列计算均值与总体标准差；标准差为 0 的列缩放系数取 1。
func fitScaler(rows [][]float64) model.Scaler {
	if len(rows) == 0 {
		return model.Scaler{Mean: []float64{}, Scale: []float64{}}
	}
	width := len(rows[0])
	mean := make([]float64, width)
	scale := make([]float64, width)
	n := float64(len(rows))

	for _, row := range rows {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	for _, row := range rows {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		std := math.Sqrt(scale[j] / n)
		if std == 0 {
			std = 1
		}
		scale[j] = std
	}
	return model.Scaler{Mean: mean, Scale: scale}
}

// transformAll 用 scaler 标准化所有行。
func transformAll(s model.Scaler, rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = s.Transform(row)
	}
	return out
}
