package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jneo8/mcp-sentinel/internal/agent"
	"github.com/jneo8/mcp-sentinel/internal/config"
	"github.com/jneo8/mcp-sentinel/internal/dispatcher"
	"github.com/jneo8/mcp-sentinel/internal/logging"
	"github.com/jneo8/mcp-sentinel/internal/sinks"
	"github.com/jneo8/mcp-sentinel/internal/toolserver"
	"github.com/jneo8/mcp-sentinel/internal/watcher"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	logLevel   string
	debug      bool

	runOnce     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:     "sentinel",
	Short:   "MCP Sentinel - incident response dispatcher for Prometheus alerts",
	Long:    `MCP Sentinel watches Prometheus-compatible alert endpoints and dispatches matching alerts to LLM agents equipped with MCP tool servers.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSentinel(cmd)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the watcher and dispatcher loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSentinel(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MCP Sentinel %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the settings file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&runOnce, "run-once", false, "Poll every watcher once, drain the queue, then exit")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9091", "Listen address for the Prometheus metrics endpoint (empty to disable)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runSentinel(cmd *cobra.Command) error {
	// Secrets such as OPENAI_API_KEY may live in a local .env file.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	}

	logging.Init(logging.Config{
		Format:    "auto",
		Level:     logLevel,
		Component: "sentinel",
		Debug:     debug,
	})

	settings, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log.Info().
		Str("config", configPath).
		Int("watchers", len(settings.Watchers)).
		Int("incident_cards", len(settings.IncidentCards)).
		Int("tool_servers", len(settings.ToolServers)).
		Msg("Starting MCP Sentinel")

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = settings.OpenAI.APIKey
	}
	if apiKey == "" {
		log.Warn().Msg("No OpenAI API key configured; agent runs will fail until OPENAI_API_KEY is set")
	}

	registry := toolserver.FromSettings(settings)
	emitter := sinks.FromSettings(settings)
	runtime := agent.NewOpenAIRuntime(settings.OpenAI, apiKey)
	orchestrator := agent.NewOrchestrator(settings, registry, emitter, runtime)
	disp := dispatcher.New(settings, orchestrator)
	watchers := watcher.NewService(settings, disp)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr)
	}

	disp.Start(ctx)

	if runOnce {
		queued := watchers.PollAll(ctx)
		log.Info().Int("queued", queued).Msg("Run-once poll complete, waiting for workers")
		disp.Join()
		disp.Stop()
		return nil
	}

	watchers.Start(ctx)
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	watchers.Stop()
	disp.Stop()
	log.Info().Msg("MCP Sentinel stopped")
	return nil
}
