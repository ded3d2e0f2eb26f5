package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"promptd/internal/config"
	"promptd/internal/engine"
	"promptd/internal/httpapi"
	"promptd/internal/supervisor"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		modelPath  string
		modelsDir  string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "promptd",
		Short:         "Local-model conversation engine and llama-server supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its control-plane HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if modelPath != "" {
				cfg.Server.ModelPath = modelPath
			}
			if modelsDir != "" {
				cfg.Server.ModelsDir = modelsDir
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			cfg = cfg.Normalized()
			return runServe(cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default 127.0.0.1:7080)")
	serve.Flags().StringVar(&modelPath, "model", "", "GGUF model file to serve")
	serve.Flags().StringVar(&modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")

	models := &cobra.Command{
		Use:   "models",
		Short: "List GGUF models under the configured models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if modelsDir != "" {
				cfg.Server.ModelsDir = modelsDir
			}
			found := supervisor.ScanModels(cfg.Server.ModelsDir)
			if len(found) == 0 {
				fmt.Printf("no models found under %s\n", cfg.Server.ModelsDir)
				return nil
			}
			for _, m := range found {
				fmt.Printf("%-30s %6.2f GB  %s\n", m.Name, m.SizeGB, m.Path)
			}
			return nil
		},
	}
	models.Flags().StringVar(&modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the promptd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("promptd", version)
		},
	}

	root.AddCommand(serve, models, versionCmd)
	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		if v := os.Getenv("PROMPTD_CONFIG"); v != "" {
			path = v
		}
	}
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).With().Timestamp().Logger()
}

func runServe(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)

	eng := engine.New(cfg, log)
	eng.SetPublisher(logPublisher{log: log})

	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(base)
	httpapi.SetLogger(log)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(eng)}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.Server.ModelsDir).Msg("promptd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if cfg.Server.ModelPath != "" {
		if err := eng.StartServer(""); err != nil {
			log.Error().Err(err).Msg("inference server did not start; use POST /server/start after fixing the cause")
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	log.Info().Msg("shutting down")
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := eng.StopServer(); err != nil {
		log.Warn().Err(err).Msg("inference server stop error")
	}
	return nil
}

// logPublisher writes engine lifecycle events to the structured log.
type logPublisher struct{ log zerolog.Logger }

func (p logPublisher) Publish(e supervisor.Event) {
	ev := p.log.Info().Str("event", e.Name)
	for k, v := range e.Fields {
		if k == "output" || k == "assembled_context" || k == "prompt" {
			continue
		}
		ev = ev.Interface(k, v)
	}
	ev.Msg("engine event")
}
