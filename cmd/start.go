package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/claude-code-open/internal/config"
	"github.com/mihaisavezi/claude-code-open/internal/dialect/anthropic"
	"github.com/mihaisavezi/claude-code-open/internal/dialect/gemini"
	"github.com/mihaisavezi/claude-code-open/internal/dialect/openai"
	"github.com/mihaisavezi/claude-code-open/internal/egress"
	"github.com/mihaisavezi/claude-code-open/internal/pipeline"
	"github.com/mihaisavezi/claude-code-open/internal/process"
	"github.com/mihaisavezi/claude-code-open/internal/provider"
	"github.com/mihaisavezi/claude-code-open/internal/router"
	"github.com/mihaisavezi/claude-code-open/internal/server"
	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/utiltransform"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the router service",
	Long:  `Start the LLM proxy router service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	// Setup logging
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	// Ensure configuration exists
	if err := ensureConfigExists(); err != nil {
		return err
	}

	// Load configuration
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"providers", len(cfg.Providers),
	)

	// Setup process management
	procMgr := process.NewManager(baseDir, logger)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv, err := buildServer(cfg)
	if err != nil {
		return err
	}

	go func() {
		if watchErr := cfgMgr.Watch(context.Background(), func(newCfg *config.Config) {
			logger.Info("configuration reloaded", "providers", len(newCfg.Providers))
		}); watchErr != nil {
			logger.Warn("config watcher stopped", "error", watchErr)
		}
	}()

	return srv.Start()
}

// buildServer assembles the transformer registry, provider registry, and
// pipeline engine from cfg, then wraps them in an internal/server.Server.
func buildServer(cfg *config.Config) (*server.Server, error) {
	transformers := transformer.NewRegistry()
	transformers.Register("openai", openai.New())
	transformers.Register("anthropic", anthropic.New())
	transformers.Register("gemini", gemini.New())
	transformers.Register("deepseek", utiltransform.NewDeepseek())
	transformers.Register("openrouter", utiltransform.NewOpenRouter())
	transformers.Register("groq", utiltransform.NewGroq())
	transformers.Register("tooluse", utiltransform.NewToolUse())
	transformers.RegisterFactory("maxtoken", utiltransform.NewMaxTokenFactory())

	providers := provider.NewRegistry()
	if err := config.BuildProviders(cfg, transformers, providers); err != nil {
		return nil, err
	}

	egressClient, err := egress.New(cfg.EffectiveProxyURL())
	if err != nil {
		return nil, err
	}

	engine := &pipeline.Engine{
		Providers:    providers,
		Egress:       egressClient,
		RouterConfig: cfg.Router.ToRouterConfig(),
		Tokenizer:    router.NewTokenizer(),
	}

	return server.New(cfgMgr, engine, transformers, providers, logger), nil
}
