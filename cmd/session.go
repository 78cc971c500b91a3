// -- cmd/session.go --
package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/actions"
	"github.com/xkilldash9x/browserpilot/internal/cdp"
	"github.com/xkilldash9x/browserpilot/internal/observability"
	"github.com/xkilldash9x/browserpilot/internal/process"
)

// withBrowser starts one browser instance, attaches an action executor to it,
// runs fn, and tears everything down on every exit path.
func withBrowser(ctx context.Context, fn func(ctx context.Context, exec *actions.Executor) error) error {
	logger := observability.GetLogger()

	manager := process.NewManager(cfg.Browser, logger)
	inst, err := manager.Start(ctx, process.StartOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.StopAll(); err != nil {
			logger.Warn("Teardown left instances behind", zap.Error(err))
		}
	}()

	client := cdp.NewClient(cfg.Network, logger)
	if err := client.Connect(ctx, inst.Endpoint()); err != nil {
		return err
	}
	defer client.Close()

	exec := actions.New(client, cfg, logger)
	if err := exec.Attach(ctx); err != nil {
		return err
	}
	return fn(ctx, exec)
}
