// Package utils 提供模板、随机数等零散工具。
package utils

import "math/rand"

var randIntn = rand.Intn

// RandomPick 从非空切片中随机取一个元素。
func RandomPick[T any](items []T) T {
	return items[randIntn(len(items))]
}

// RandomFloat 返回 [0, max) 的随机数，max<=0 时返回 0。
func RandomFloat(max float64) float64 {
	if max <= 0 {
		return 0
	}
	return rand.Float64() * max
}
