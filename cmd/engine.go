package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/idgate/internal/engine"
	"github.com/andresmejia3/idgate/internal/utils"
)

var errEngineDisabled = errors.New("recognition engine disabled (set [engine] enabled = true in idgate.toml)")

// startEngine launches and initialises the configured engine. It returns
// nil, nil when the engine is disabled.
func startEngine(ctx context.Context) (*engine.ProcessEngine, error) {
	if !Cfg.Engine.Enabled {
		return nil, nil
	}
	fmt.Fprintf(os.Stderr, "⚙️  Starting recognition engine...\n")
	eng, err := engine.Start(0, Cfg.Engine.Command)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, Cfg.Engine.Timeout.D())
	defer cancel()
	if err := eng.Init(initCtx, Cfg.Engine.LicenseKey); err != nil {
		utils.ShowError("Engine failed to initialise", err, eng.Cmd)
		eng.Close()
		return nil, err
	}
	return eng, nil
}
