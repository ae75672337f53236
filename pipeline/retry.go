package pipeline

import (
	"context"
	"time"

	"github.com/GrainArc/GeoClassify/config"
	"github.com/GrainArc/GeoClassify/errs"
	"github.com/GrainArc/GeoClassify/logger"
	"github.com/GrainArc/GeoClassify/metrics"
	"github.com/cenkalti/backoff/v5"
)

// retry 只重试瞬时的外部依赖错误，其余错误直接返回
func retry[T any](ctx context.Context, cfg config.Retry, log *logger.Logger, step string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialMs > 0 {
		b.InitialInterval = time.Duration(cfg.InitialMs) * time.Millisecond
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.ProviderRetriesTotal.WithLabelValues(step).Inc()
			log.Warn("transient provider error, retrying", "step", step, "wait", wait, "error", err)
		}),
	}
	if cfg.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(cfg.MaxTries))
	}
	if cfg.MaxElapsedSec > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(time.Duration(cfg.MaxElapsedSec)*time.Second))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errs.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
