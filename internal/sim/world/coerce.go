package world

import (
	"math"
	"strconv"
)

// CoerceTriple normalizes any position shape the decision service produces
// into three integers. Lists may be short, hold floats, strings or nulls;
// maps may use x/y/z keys. Anything unusable becomes 0. Every mutation path
// writes positions through this function.
func CoerceTriple(v any) (x, y, z int) {
	switch p := v.(type) {
	case []any:
		if len(p) > 0 {
			x = coerceInt(p[0])
		}
		if len(p) > 1 {
			y = coerceInt(p[1])
		}
		if len(p) > 2 {
			z = coerceInt(p[2])
		}
	case map[string]any:
		x = coerceInt(p["x"])
		y = coerceInt(p["y"])
		z = coerceInt(p["z"])
	}
	return x, y, z
}

func coerceInt(v any) int {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int(f)
		}
	case bool:
		if n {
			return 1
		}
	}
	return 0
}
