package app

import (
	"context"
	"log/slog"

	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/frame"
)

type drawer interface {
	DrawFrame(r frame.Renderer) error
}

type reloader interface {
	Reload(path string) (int, error)
}

// Loop is the present loop: poll window events, apply pending shader
// reloads, draw one frame. It runs on the caller's goroutine.
type Loop struct {
	Frames   drawer
	Renderer frame.Renderer
	Programs reloader
	// Changes delivers changed shader paths. May be nil.
	Changes <-chan string
	// Poll handles pending window events and reports whether the loop
	// should keep running.
	Poll   func() bool
	Logger *slog.Logger
}

// Run draws frames until Poll reports a quit, ctx is done, or a frame fails.
// A quit is not an error; a failed frame is returned as is and is fatal.
func (l *Loop) Run(ctx context.Context) error {
	log := l.Logger
	if log == nil {
		log = kiyo.Logger()
	}

	for {
		if ctx.Err() != nil {
			log.Info("stopping", "reason", context.Cause(ctx))
			return nil
		}
		if l.Poll != nil && !l.Poll() {
			log.Info("window closed")
			return nil
		}
		l.applyReloads(log)
		if err := l.Frames.DrawFrame(l.Renderer); err != nil {
			return err
		}
	}
}

// applyReloads drains Changes without blocking. Failed reloads keep the
// previous program and are already logged by the store.
func (l *Loop) applyReloads(log *slog.Logger) {
	for {
		select {
		case path, ok := <-l.Changes:
			if !ok {
				l.Changes = nil
				return
			}
			n, err := l.Programs.Reload(path)
			if err != nil {
				log.Debug("reload rejected", "path", path, "err", err)
				continue
			}
			if n == 0 {
				log.Debug("changed file is not a program source", "path", path)
			}
		default:
			return
		}
	}
}
