// Command kiyo runs the built-in pass graphs in a window.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/vkngwrapper/kiyo/app"
)

func init() {
	// SDL and the window system need the main thread.
	runtime.LockOSThread()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(app.Run, os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kiyo: %+v\n", err)
		os.Exit(1)
	}
}
