// Package conv 提供请求参数等 any 值的类型转换。
package conv

import "strconv"

// ToInt 将 any 转为 int。
// 支持 int、int64、int32、float64、float32 以及十进制字符串。
func ToInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case int32:
		return int(val), true
	case float64:
		return int(val), true
	case float32:
		return int(val), true
	case string:
		n, err := strconv.Atoi(val)
		return n, err == nil
	default:
		return 0, false
	}
}
