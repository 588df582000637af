// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/audiopro/internal/api/connect"
	"github.com/osa030/audiopro/internal/app/ambient"
	"github.com/osa030/audiopro/internal/app/bridge"
	"github.com/osa030/audiopro/internal/app/notification"
	"github.com/osa030/audiopro/internal/app/playback"
	"github.com/osa030/audiopro/internal/infra/config"
	"github.com/osa030/audiopro/internal/infra/logger"
	"github.com/osa030/audiopro/internal/infra/media"
	"github.com/osa030/audiopro/internal/infra/store"
)

var (
	app        = kingpin.New("audiopro-server", "audiopro playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	printConfigCmd = app.Command("print-config", "Print the effective configuration and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == printConfigCmd.FullCommand() {
		printConfig(cfg)
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %+v", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, falling back to defaults when the
// file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		zlog.Warn().Msgf("Config file not found, using defaults: path=%s", path)
		return config.Default()
	}
	zlog.Info().Msgf("Loading config from %s", path)
	return config.Load(path)
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	var prefs bridge.PreferenceStore
	if cfg.Store.IsEnabled() {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return errors.Wrap(err, "failed to open preference store")
		}
		defer func() {
			if err := st.Close(); err != nil {
				zlog.Error().Msgf("Failed to close preference store: %v", err)
			}
		}()
		prefs = st
	}

	loader := newLoader(cfg)
	b := bridge.New(bridge.Config{
		Playback: playback.Config{
			ProgressInterval: cfg.Playback.ProgressInterval(),
			LoadTimeout:      cfg.Playback.LoadTimeout(),
			MinSpeed:         cfg.Playback.MinSpeed,
			MaxSpeed:         cfg.Playback.MaxSpeed,
			InitialVolume:    cfg.Playback.DefaultVolume,
			InitialSpeed:     cfg.Playback.DefaultSpeed,
		},
		Ambient: ambient.Config{
			LoadTimeout:   cfg.Playback.LoadTimeout(),
			InitialVolume: cfg.Ambient.DefaultVolume,
		},
		EventBufferSize: notification.DefaultBufferSize,
	}, loader, loader, prefs)
	defer b.Shutdown()

	var opts []connect.HandlerOption
	if cfg.Server.Token != "" {
		opts = append(opts, connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.Token)))
	} else {
		zlog.Warn().Msg("No server token configured, the RPC surface is unauthenticated")
	}

	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewAudioService(b).Handler(opts...))

	serverAddr := cfg.Server.Addr
	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    serverAddr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", serverAddr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zlog.Info().Msgf("Received shutdown signal: %v", sig)
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shut the bridge down first so open event streams end
	b.Shutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// newLoader builds the media loader shared by both channels.
func newLoader(cfg *config.Config) media.Loader {
	prober := media.NewProber(&http.Client{Timeout: cfg.Media.HTTPTimeout()}, cfg.Media.ShouldProbeHTTP())
	return media.NewRetrying(prober, cfg.Playback.LoadRetries+1, cfg.Playback.LoadRetryBaseDelay())
}

func printConfig(cfg *config.Config) {
	fmt.Println("Server:")
	fmt.Printf("  Addr: %s\n", cfg.Server.Addr)
	fmt.Printf("  Token set: %v\n", cfg.Server.Token != "")
	fmt.Println("Playback:")
	fmt.Printf("  Progress interval: %v\n", cfg.Playback.ProgressInterval())
	fmt.Printf("  Load retries: %d (base delay %v)\n", cfg.Playback.LoadRetries, cfg.Playback.LoadRetryBaseDelay())
	fmt.Printf("  Load timeout: %v\n", cfg.Playback.LoadTimeout())
	fmt.Printf("  Speed range: %.2f - %.2f\n", cfg.Playback.MinSpeed, cfg.Playback.MaxSpeed)
	fmt.Printf("  Default volume: %.2f\n", cfg.Playback.DefaultVolume)
	fmt.Printf("  Default speed: %.2f\n", cfg.Playback.DefaultSpeed)
	fmt.Println("Ambient:")
	fmt.Printf("  Default volume: %.2f\n", cfg.Ambient.DefaultVolume)
	fmt.Println("Store:")
	fmt.Printf("  Enabled: %v\n", cfg.Store.IsEnabled())
	fmt.Printf("  Path: %s\n", cfg.Store.Path)
	fmt.Println("Media:")
	fmt.Printf("  Probe HTTP: %v\n", cfg.Media.ShouldProbeHTTP())
	fmt.Printf("  HTTP timeout: %v\n", cfg.Media.HTTPTimeout())
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
