package jobs

import (
	"context"
	"time"

	Logger "github.com/drugboard/feedengine/utils/log"
)

const (
	GracefulRetryDelay = 3
)

// Module is one long running unit of background work. Its lifetime is bound
// to the engine's root context.
type Module interface {
	// RunModule contains the module's logic. It blocks until the context
	// is cancelled or the module fails; a non-nil error triggers a
	// restart.
	RunModule(ctx context.Context) error

	// Name uniquely identifies the module instance. Multiple instances of
	// the same module need distinct names.
	Name() string

	// Shutdown releases module-owned resources during engine shutdown.
	Shutdown()
}

// RunModuleWithGracefulRestart keeps restarting a failed module with a small
// delay in between. A clean exit stops the loop.
func RunModuleWithGracefulRestart(ctx context.Context, module Module) {
	for {
		err := module.RunModule(ctx)
		if err == nil {
			break
		}
		Logger.Log.Errorf("module %s exited with error %v, retry in %d seconds",
			module.Name(), err, GracefulRetryDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(GracefulRetryDelay * time.Second):
		}
	}
}
