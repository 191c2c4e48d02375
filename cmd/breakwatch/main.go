package main

import (
	"log"

	"github.com/rewired-gh/breakwatch/internal/config"
	"github.com/rewired-gh/breakwatch/internal/logger"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"
)

var (
	configPath = pflag.StringP("config", "c", "configs/config.yaml", "Path to configuration file (empty for defaults and environment only)")
	runOnce    = pflag.Bool("once", false, "Run a single poll cycle and exit")
	logLevel   = pflag.String("log-level", "", "Override logging.level (debug, info, warn, error)")
)

func main() {
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	if *configPath != "" {
		logger.Info("Configuration loaded from %s", *configPath)
	}

	app := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Zap()}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Supply(cfg, options{Once: *runOnce}),
		fx.Provide(
			newLocation,
			newRegistry,
			newRecorder,
			newLedger,
			newExchangeClient,
			newNotifier,
			newBoard,
			newEngine,
			newPoller,
			newServer,
		),
		fx.Invoke(run),
	)
	if err := app.Err(); err != nil {
		logger.Sync()
		logger.Fatal("Failed to initialize: %v", err)
	}
	app.Run()
}
