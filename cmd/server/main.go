package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/config"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/editions"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/logging"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/web"
)

var openService = editions.Open

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run serves until the listener fails. The service is closed before it
// returns.
func run(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env-file", ".env", "Environment file loaded before reading configuration")
	configPath := fs.String("config", "", "Path to config JSON or YAML (default $EDITIONS_CONFIG_FILE or /etc/editions/config.json)")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "text", "Log format (text, json)")
	addr := fs.String("addr", ":8080", "HTTP bind address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := logging.New(stderr, *logLevel, *logFormat)

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.Warn("env file not loaded", "path", *envFile, "error", err)
	}
	if *configPath == "" {
		*configPath = config.DefaultPath()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, err := openService(cfg, logger)
	if err != nil {
		return fmt.Errorf("open editions: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("close editions", "error", err)
		}
	}()

	server := web.NewServer(cfg, svc, logger)
	return server.ListenAndServe(*addr)
}
