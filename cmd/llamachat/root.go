package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llamachat/internal/acquire"
	"llamachat/internal/config"
	"llamachat/internal/engine"
	"llamachat/internal/logging"
	"llamachat/internal/prefs"
	"llamachat/internal/registry"
	"llamachat/internal/session"
)

// envConfig names the config file when --config is not given.
const envConfig = "LLAMACHAT_CONFIG"

// app carries the resolved configuration and logger shared by subcommands.
type app struct {
	cfgPath string
	cfg     config.Config
	log     zerolog.Logger
	// flags holds command-line values; only flags the user set override the file.
	flags config.Config
	// engineFn replaces newEngine when set.
	engineFn func() (engine.Engine, error)
}

func buildRootCmd() *cobra.Command { return buildRootCmdWith(&app{}) }

func buildRootCmdWith(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "llamachat",
		Short:         "Chat with a local GGUF model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "Config file (.yaml|.json|.toml); defaults to $"+envConfig)
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "Log level: trace|debug|info|warn|error|off")
	pf.StringVar(&a.flags.LogFormat, "log-format", "", "Log format: console|json")
	pf.StringVar(&a.flags.ModelsDir, "models-dir", "", "Model source folder used until one is persisted")
	pf.StringVar(&a.flags.TargetDir, "target-dir", "", "Directory receiving acquired model copies")
	pf.StringVar(&a.flags.PrefsPath, "prefs", "", "Preferences file (file backend) or directory (badger)")
	pf.StringVar(&a.flags.PrefsBackend, "prefs-backend", "", "Preferences backend: file|badger")
	pf.StringVar(&a.flags.Engine, "engine", "", "Inference engine: llama|server")
	pf.StringVar(&a.flags.LlamaBin, "llama-bin", "", "llama-server executable for engine=server")
	pf.StringVar(&a.flags.LlamaServerURL, "llama-server-url", "", "Attach engine=server to a running llama-server")
	pf.IntVar(&a.flags.LlamaCtx, "ctx", 0, "Context size in tokens")
	pf.IntVar(&a.flags.LlamaThreads, "threads", 0, "CPU threads (0 = engine default)")
	pf.IntVar(&a.flags.LlamaGPULayers, "gpu-layers", 0, "Layers to offload to the GPU")
	pf.IntVar(&a.flags.MaxTokens, "max-tokens", 0, "Maximum tokens generated per reply")
	pf.Float64Var(&a.flags.BenchAbortSeconds, "bench-abort-seconds", 0, "Skip the full benchmark when the warmup takes longer")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.loadConfig(cmd)
	}

	root.AddCommand(newServeCmd(a), newChatCmd(a), newModelsCmd(a), newSourceCmd(a))

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(cmd.OutOrStdout(), true) }})
	root.AddCommand(completionCmd)
	return root
}

// loadConfig reads the config file, applies flags the user set, fills
// defaults and builds the logger.
func (a *app) loadConfig(cmd *cobra.Command) error {
	path := a.cfgPath
	if path == "" {
		path = os.Getenv(envConfig)
	}
	var cfg config.Config
	if path != "" {
		c, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = c
	}
	applyFlags(&cfg, a.flags, cmd.Flags().Changed)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(cfg.LogLevel, logging.Format(cfg.LogFormat), cmd.ErrOrStderr())
	if path != "" {
		a.log.Debug().Str("path", path).Msg("config loaded")
	}
	return nil
}

func applyFlags(dst *config.Config, f config.Config, changed func(string) bool) {
	setS := func(name string, d *string, v string) {
		if changed(name) {
			*d = v
		}
	}
	setI := func(name string, d *int, v int) {
		if changed(name) {
			*d = v
		}
	}
	setS("log-level", &dst.LogLevel, f.LogLevel)
	setS("log-format", &dst.LogFormat, f.LogFormat)
	setS("models-dir", &dst.ModelsDir, f.ModelsDir)
	setS("target-dir", &dst.TargetDir, f.TargetDir)
	setS("prefs", &dst.PrefsPath, f.PrefsPath)
	setS("prefs-backend", &dst.PrefsBackend, f.PrefsBackend)
	setS("engine", &dst.Engine, f.Engine)
	setS("llama-bin", &dst.LlamaBin, f.LlamaBin)
	setS("llama-server-url", &dst.LlamaServerURL, f.LlamaServerURL)
	setS("addr", &dst.Addr, f.Addr)
	setS("default-model", &dst.DefaultModel, f.DefaultModel)
	setI("ctx", &dst.LlamaCtx, f.LlamaCtx)
	setI("threads", &dst.LlamaThreads, f.LlamaThreads)
	setI("gpu-layers", &dst.LlamaGPULayers, f.LlamaGPULayers)
	setI("max-tokens", &dst.MaxTokens, f.MaxTokens)
	if changed("bench-abort-seconds") {
		dst.BenchAbortSeconds = f.BenchAbortSeconds
	}
	if changed("cors") {
		dst.CORSEnabled = f.CORSEnabled
	}
	if changed("cors-origins") {
		dst.CORSOrigins = f.CORSOrigins
	}
}

// openCatalog opens the preferences store and the model catalog on top of it.
// The caller closes the returned store.
func (a *app) openCatalog() (prefs.Store, *registry.DirResolver, *registry.Catalog, error) {
	store, err := prefs.Open(a.cfg.PrefsBackend, a.cfg.PrefsPath, a.log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open prefs: %w", err)
	}
	res := registry.NewDirResolver(a.cfg.TargetDir)
	return store, res, registry.NewCatalog(store, res, strings.TrimSpace(a.cfg.ModelsDir)), nil
}

// newEngine builds the configured inference engine.
func (a *app) newEngine() (engine.Engine, error) {
	if a.engineFn != nil {
		return a.engineFn()
	}
	if (a.cfg.Engine == "" || a.cfg.Engine == "llama") && !engine.LlamaBuilt() {
		a.log.Warn().Msg("built without -tags=llama; model loads will fail, use --engine=server")
	}
	return engine.New(a.cfg.Engine, engine.ServerOptions{
		Options: engine.Options{
			CtxSize:   a.cfg.LlamaCtx,
			Threads:   a.cfg.LlamaThreads,
			GPULayers: a.cfg.LlamaGPULayers,
			MaxTokens: a.cfg.MaxTokens,
		},
		Bin:     a.cfg.LlamaBin,
		BaseURL: a.cfg.LlamaServerURL,
	}, a.log)
}

// newController wires a session around eng. reg may be nil.
func (a *app) newController(eng engine.Engine, reg prometheus.Registerer) (*session.Controller, error) {
	acq := acquire.New(acquire.Config{
		Downloader: acquire.NewHTTPDownloader(&http.Client{Timeout: a.cfg.DownloadTimeoutDuration()}),
		Logger:     &a.log,
	})
	return session.New(session.Config{
		Engine:              eng,
		Resolver:            acq,
		Registerer:          reg,
		Logger:              &a.log,
		BenchAbortThreshold: a.cfg.BenchAbortThreshold(),
	})
}
