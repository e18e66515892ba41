package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	Logger "github.com/kamaleddin/threadify/utils/log"
)

const (
	// Seconds to wait before restarting a crashed module.
	gracefulRetryDelay = 3
)

// Module is one long-running component managed by the Engine (the
// scheduler, the notifier). Its lifecycle is bound to the engine's context.
type Module interface {
	// RunModule contains the module's loop. It takes a context by which its
	// lifecycle is managed and returns once that context is canceled, or an
	// error if the loop fell over.
	RunModule(ctx context.Context) error

	// Name uniquely identifies the module instance.
	Name() string

	// Shutdown releases module-held resources after the loop has returned.
	Shutdown()
}

// RunModuleWithGracefulRestart restarts a module whenever it exits with an
// error, so one poisoned message cannot take the whole service down. A nil
// return (context canceled and wound down) ends the loop.
func RunModuleWithGracefulRestart(ctx context.Context, module Module) {
	for {
		err := module.RunModule(ctx)
		if err == nil || ctx.Err() != nil {
			break
		}
		Logger.Log.Errorf("module %s exited with error %v, restart in %d seconds",
			module.Name(), err, gracefulRetryDelay)
		time.Sleep(gracefulRetryDelay * time.Second)
	}
}

// Engine manages shared resources and the execution lifecycle of each
// module, plus the in-process event bus they communicate over.
type Engine struct {
	Modules []Module

	ctx    context.Context
	cancel context.CancelFunc

	// Golang channel implementation for now; the interface boundary allows
	// substituting a broker-backed bus later without touching modules.
	EventBus *gochannel.GoChannel
}

func NewEngine(ms []Module, ctx context.Context, cancel context.CancelFunc, e *gochannel.GoChannel) *Engine {
	return &Engine{
		Modules:  ms,
		ctx:      ctx,
		cancel:   cancel,
		EventBus: e,
	}
}

// Run executes all modules and blocks until every one of them finishes.
func (e *Engine) Run() {
	var wg sync.WaitGroup

	for idx := range e.Modules {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			Logger.Log.Infof("start engine module %s", e.Modules[index].Name())
			RunModuleWithGracefulRestart(e.ctx, e.Modules[index])
			Logger.Log.Infof("module %s finished execution", e.Modules[index].Name())
		}(idx)
	}

	wg.Wait()
}

// Shutdown cancels the root context and tears modules down in parallel.
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

	if e.EventBus != nil {
		if err := e.EventBus.Close(); err != nil {
			Logger.Log.Errorf("cannot close event bus: %v", err)
		}
	}
}
