package instance

import (
	"context"
)

type key int

// Key 是上下文中存储实例的键。
const (
	Key key = 114514
)

// GetInstance 从给定的上下文中获取实例，不存在时返回 nil。
func GetInstance(ctx context.Context) *Instance {
	if s, ok := ctx.Value(Key).(*Instance); ok {
		return s
	}
	return nil
}

// WithInstance 返回携带实例的新上下文。
func WithInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, Key, inst)
}
