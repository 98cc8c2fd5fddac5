// Package app opens a window, builds a pass graph on the Vulkan backend and
// presents it until the window closes.
package app

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/config"
	"github.com/vkngwrapper/kiyo/frame"
	"github.com/vkngwrapper/kiyo/gpu"
	"github.com/vkngwrapper/kiyo/graph"
	"github.com/vkngwrapper/kiyo/metrics"
	"github.com/vkngwrapper/kiyo/program"
	"github.com/vkngwrapper/kiyo/shader"
	"github.com/vkngwrapper/kiyo/vulkan"
	"github.com/vkngwrapper/kiyo/watch"
)

type Options struct {
	Title  string
	Logger *slog.Logger
}

type App struct {
	cfg   config.Config
	opts  Options
	log   *slog.Logger
	graph graph.Config

	window    *sdl.Window
	driver    *vulkan.Driver
	device    *gpu.Device
	pipeliner *frame.Pipeliner
	store     *program.Store
	orch      *graph.Orchestrator
	watcher   *watch.FS

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	server   *metricsServer
}

// Run presents graphCfg until the window is closed or ctx is done. It must
// be called from the main goroutine with the OS thread locked, as SDL
// requires.
func Run(ctx context.Context, cfg config.Config, graphCfg graph.Config, opts Options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.Logger == nil {
		opts.Logger = kiyo.Logger()
	}
	if opts.Title == "" {
		opts.Title = "kiyo"
	}

	a := &App{cfg: cfg, opts: opts, log: opts.Logger, graph: graphCfg}
	defer a.cleanup()

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"start metrics", a.initMetrics},
		{"create window", a.initWindow},
		{"initialize vulkan", a.initVulkan},
		{"build pass graph", a.initGraph},
		{"watch shaders", a.initWatch},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return errors.Wrap(err, step.name)
		}
	}

	return a.mainLoop(ctx)
}

func (a *App) initMetrics(context.Context) error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	a.registry = newRegistry()
	a.metrics = metrics.New(a.registry)

	var err error
	a.server, err = serveMetrics(a.cfg.MetricsAddr, a.registry, a.log)
	return err
}

func (a *App) initWindow(context.Context) error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return err
	}

	window, err := sdl.CreateWindow(a.opts.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(a.cfg.Width), int32(a.cfg.Height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN)
	if err != nil {
		return err
	}
	a.window = window
	return nil
}

func (a *App) initVulkan(context.Context) error {
	var err error
	a.driver, err = vulkan.Open(a.window, vulkan.Options{
		AppName:    a.opts.Title,
		Validation: a.cfg.Validation,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}
	a.device = gpu.NewDevice(a.driver)

	swapchain, err := a.driver.NewSwapchain(a.window, a.cfg.VSync)
	if err != nil {
		return err
	}
	a.pipeliner, err = frame.New(a.device, swapchain, frame.Options{
		FramesInFlight: a.cfg.FramesInFlight,
		LogFPS:         a.cfg.LogFPS,
		Metrics:        a.metrics,
		Logger:         a.log,
	})
	if err != nil {
		// A no-op when New has already destroyed it.
		swapchain.Destroy()
		return err
	}
	return nil
}

func (a *App) initGraph(context.Context) error {
	a.store = program.NewStore(a.device, shader.DefaultExtensions(),
		program.WithLogger(a.log),
		program.WithMetrics(a.metrics))

	var err error
	a.orch, err = graph.Build(a.device, a.pipeliner.Pool(), a.store, a.graph, a.pipeliner.Extent(),
		graph.WithWorkgroupSize(a.cfg.WorkgroupSize),
		graph.WithLogger(a.log))
	return err
}

func (a *App) initWatch(ctx context.Context) error {
	paths := a.store.Paths()
	if !a.cfg.Watch || len(paths) == 0 {
		return nil
	}

	var err error
	a.watcher, err = watch.New(watch.Options{Logger: a.log})
	if err != nil {
		return err
	}
	if err := a.watcher.Add(paths...); err != nil {
		return err
	}
	a.watcher.Start(ctx)
	a.log.Info("watching shaders for changes", "files", len(paths))
	return nil
}

func (a *App) mainLoop(ctx context.Context) error {
	loop := &Loop{
		Frames:   a.pipeliner,
		Renderer: a.orch,
		Programs: a.store,
		Poll:     pollEvents,
		Logger:   a.log,
	}
	if a.watcher != nil {
		loop.Changes = a.watcher.Changes()
	}
	return loop.Run(ctx)
}

func pollEvents() bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			return false
		case *sdl.KeyboardEvent:
			if e.Type == sdl.KEYDOWN && e.Keysym.Sym == sdl.K_ESCAPE {
				return false
			}
		}
	}
	return true
}

// cleanup tears down whatever was created, in reverse order.
func (a *App) cleanup() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.log.Warn("close watcher", "err", err)
		}
	}
	a.releaseGraph()
	if a.device != nil {
		a.device.Release()
	} else if a.driver != nil {
		a.driver.Destroy()
	}
	if a.window != nil {
		a.window.Destroy()
	}
	sdl.Quit()
	if a.server != nil {
		a.server.shutdown()
	}
}

// releaseGraph closes the pipeliner first: its device-idle wait must finish
// before the graph's images and programs start being destroyed.
func (a *App) releaseGraph() {
	if a.pipeliner != nil {
		if err := a.pipeliner.Close(); err != nil {
			a.log.Warn("close frame pipeliner", "err", err)
		}
	}
	if a.orch != nil {
		a.orch.Release()
	}
	if a.store != nil {
		a.store.Close()
	}
}
