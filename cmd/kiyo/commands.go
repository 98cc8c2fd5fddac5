package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/kiyo"
	"github.com/vkngwrapper/kiyo/app"
	"github.com/vkngwrapper/kiyo/config"
	"github.com/vkngwrapper/kiyo/examples"
	"github.com/vkngwrapper/kiyo/graph"
)

type runFunc func(ctx context.Context, cfg config.Config, graphCfg graph.Config, opts app.Options) error

type runFlags struct {
	configPath string
	shaderDir  string
	values     config.Config
}

func newRootCmd(run runFunc, stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "kiyo",
		Short:         "Run compute-shader pass graphs in a window",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.AddCommand(newRunCmd(run, stderr), newListCmd())
	return rootCmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in examples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range examples.All() {
				fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Description)
			}
			return w.Flush()
		},
	}
}

func newRunCmd(run runFunc, logOut io.Writer) *cobra.Command {
	f := &runFlags{values: config.Default()}

	cmd := &cobra.Command{
		Use:   "run [example]",
		Short: "Open a window and present an example pass graph",
		Long: `Installs the example's shaders (unless they are already there), builds its
pass graph and presents it until the window is closed. Shader files are
watched and rebuilt on save.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			example, ok := examples.Lookup(args[0])
			if !ok {
				return errors.Newf("unknown example %q; see kiyo list", args[0])
			}

			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.LogLevel, logOut)
			if err != nil {
				return err
			}
			kiyo.SetLogger(log)

			dir := f.shaderDir
			if dir == "" {
				if dir, err = examples.DefaultDir(example.Name); err != nil {
					return err
				}
			}
			graphCfg, err := example.Install(dir)
			if err != nil {
				return err
			}
			log.Info("running example", "name", example.Name, "shaders", dir)

			return run(cmd.Context(), cfg, graphCfg, app.Options{
				Title:  "kiyo - " + example.Name,
				Logger: log,
			})
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file; flags override its values")
	fs.StringVar(&f.shaderDir, "shader-dir", "", "directory to install and watch shaders in (default: user cache dir)")
	fs.IntVar(&f.values.Width, "width", f.values.Width, "window width")
	fs.IntVar(&f.values.Height, "height", f.values.Height, "window height")
	fs.BoolVar(&f.values.VSync, "vsync", f.values.VSync, "wait for vertical blank when presenting")
	fs.BoolVar(&f.values.LogFPS, "log-fps", f.values.LogFPS, "log the frame rate once a second")
	fs.IntVar(&f.values.FramesInFlight, "frames-in-flight", f.values.FramesInFlight, "frame slots (0: one per swapchain image)")
	fs.IntVar(&f.values.WorkgroupSize, "workgroup-size", f.values.WorkgroupSize, "compute work-group edge length")
	fs.BoolVar(&f.values.Validation, "validation", f.values.Validation, "enable the Vulkan validation layer")
	fs.StringVar(&f.values.LogLevel, "log-level", f.values.LogLevel, "debug, info, warn or error")
	fs.StringVar(&f.values.MetricsAddr, "metrics-addr", f.values.MetricsAddr, "serve Prometheus metrics on this address")
	fs.BoolVar(&f.values.Watch, "watch", f.values.Watch, "rebuild programs when their shader files change")
	return cmd
}

// resolve layers the config file over the defaults, then explicitly set
// flags over both.
func (f *runFlags) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}

	fs := cmd.Flags()
	overrides := []struct {
		flag  string
		apply func()
	}{
		{"width", func() { cfg.Width = f.values.Width }},
		{"height", func() { cfg.Height = f.values.Height }},
		{"vsync", func() { cfg.VSync = f.values.VSync }},
		{"log-fps", func() { cfg.LogFPS = f.values.LogFPS }},
		{"frames-in-flight", func() { cfg.FramesInFlight = f.values.FramesInFlight }},
		{"workgroup-size", func() { cfg.WorkgroupSize = f.values.WorkgroupSize }},
		{"validation", func() { cfg.Validation = f.values.Validation }},
		{"log-level", func() { cfg.LogLevel = f.values.LogLevel }},
		{"metrics-addr", func() { cfg.MetricsAddr = f.values.MetricsAddr }},
		{"watch", func() { cfg.Watch = f.values.Watch }},
	}
	for _, o := range overrides {
		if fs.Changed(o.flag) {
			o.apply()
		}
	}
	return cfg, cfg.Validate()
}

func newLogger(level string, out io.Writer) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})), nil
}
