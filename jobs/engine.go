// Package jobs runs the engine's background maintenance: cache sweeps, feed
// warming and metric window trimming, plus the event consumer itself, all as
// restartable modules under one lifecycle.
package jobs

import (
	"context"
	"sync"

	Logger "github.com/drugboard/feedengine/utils/log"
)

// Engine manages shared execution lifecycle of each module. Each module runs
// in its own goroutine; Run blocks until all of them finish.
type Engine struct {
	Modules []Module

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(ms []Module, ctx context.Context, cancel context.CancelFunc) *Engine {
	return &Engine{
		Modules: ms,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run executes all modules and waits until every one finishes.
func (e *Engine) Run() {
	var wg sync.WaitGroup

	for idx := range e.Modules {
		wg.Add(1)
		go func(index int) {
			Logger.Log.Infof("start engine module %s", e.Modules[index].Name())
			defer wg.Done()
			RunModuleWithGracefulRestart(e.ctx, e.Modules[index])
			Logger.Log.Infof("module %s finished execution", e.Modules[index].Name())
		}(idx)
	}

	wg.Wait()
}

// Shutdown cancels the root context and tears every module down.
func (e *Engine) Shutdown() {
	Logger.Log.Infoln("starting graceful shutdown process")
	e.cancel()

	var wg sync.WaitGroup
	for idx := range e.Modules {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			e.Modules[index].Shutdown()
			Logger.Log.Infof("module %s shut down", e.Modules[index].Name())
		}(idx)
	}

	wg.Wait()
}
