package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/andresmejia3/idgate/internal/engine"
	"github.com/andresmejia3/idgate/internal/types"
	"github.com/andresmejia3/idgate/internal/utils"
)

// SideValidator confirms a just-captured frame shows the expected side.
type SideValidator interface {
	CheckSide(ctx context.Context, jpeg []byte, expected types.Side) bool
}

// Availability is implemented by validators that can tell an unusable
// backend apart from a negative answer.
type Availability interface {
	Available() bool
}

// ValidatorFunc adapts a function to SideValidator.
type ValidatorFunc func(ctx context.Context, jpeg []byte, expected types.Side) bool

func (f ValidatorFunc) CheckSide(ctx context.Context, jpeg []byte, expected types.Side) bool {
	return f(ctx, jpeg, expected)
}

// EngineValidator delegates to the recognition engine's quick single-frame scan.
//
// With no engine, or an engine that is not initialised, the check passes
// unless Required is set: manual and non-engine modes trust the operator.
// When the engine is supposed to be active (Required) an unready engine
// fails the check. Engine errors always fail it.
type EngineValidator struct {
	Engine   engine.Engine
	Required bool
	Timeout  time.Duration
	Logger   *slog.Logger
}

func (v *EngineValidator) CheckSide(ctx context.Context, jpeg []byte, expected types.Side) bool {
	logger := v.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	if v.Engine == nil || !v.Engine.Ready() {
		if v.Required {
			logger.Warn("side check failed closed: engine not ready", "side", expected.String())
			return false
		}
		logger.Debug("side check skipped: engine not active", "side", expected.String())
		return true
	}

	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}
	ok, err := v.Engine.QuickCheckSide(ctx, jpeg, expected)
	if err != nil {
		if !v.Engine.Ready() {
			logger.Error("recognition engine unusable, side checks fail until it is restarted", "side", expected.String(), "error", err)
		} else {
			logger.Warn("side check errored", "side", expected.String(), "error", err)
		}
		return false
	}
	return ok
}

// Available reports whether a failed check can be read as "wrong side". It
// is false when the engine is required but not ready, including after an
// abandoned call left it broken.
func (v *EngineValidator) Available() bool {
	if !v.Required {
		return true
	}
	return v.Engine != nil && v.Engine.Ready()
}
