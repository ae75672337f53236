package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/GrainArc/GeoClassify/logger"
)

// runSafe 执行 fn 并把 panic 转为错误，避免后台循环因单个文件退出
func runSafe[T any](ctx context.Context, log *logger.Logger, fn func(ctx context.Context) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("ingestion panic recovered", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return fn(ctx)
}
