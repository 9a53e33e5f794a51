package retry

import (
	"context"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// errBadResult marks a result rejected by RetryOnResult so the retry loop
// treats it like a failure.
var errBadResult = errors.New("result rejected by retry predicate")

// ValueConfig extends Config with result-aware behavior.
type ValueConfig[T any] struct {
	Config

	// RetryOnResult retries when it returns true for a non-error result.
	RetryOnResult func(T) bool
	// OnSuccess runs once with the final successful result.
	OnSuccess func(T)
	// ReturnOnFailure, when set, swallows the final error and is returned
	// instead.
	ReturnOnFailure *T
}

// DoValue runs op under the retry policy, returning its result.
//
// When every attempt fails: OnFailure fires, then either the configured
// ReturnOnFailure value is returned with a nil error, or the zero value with
// the last error.
func DoValue[T any](ctx context.Context, cfg ValueConfig[T], op func(context.Context) (T, error)) (T, error) {
	var result T

	wrapped := func(ctx context.Context) error {
		var err error
		result, err = op(ctx)
		if err != nil {
			return err
		}
		if cfg.RetryOnResult != nil && cfg.RetryOnResult(result) {
			return errors.Wrapf(errBadResult, "%+v", result)
		}
		return nil
	}

	// RetryOn must also admit predicate rejections, otherwise RetryIf would
	// stop the loop on the first bad result.
	inner := cfg.Config
	if len(inner.RetryOn) > 0 && cfg.RetryOnResult != nil {
		inner.RetryOn = append(append([]error{}, inner.RetryOn...), errBadResult)
	}

	if err := Do(ctx, inner, wrapped); err != nil {
		if cfg.ReturnOnFailure != nil {
			return *cfg.ReturnOnFailure, nil
		}
		var zero T
		return zero, err
	}

	if cfg.OnSuccess != nil {
		cfg.OnSuccess(result)
	}
	return result, nil
}
