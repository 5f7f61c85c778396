package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// A missing .env is fine; the environment may already be populated
	_ = godotenv.Load()
	setupLogging()

	app := &cli.App{
		Name:  "multichat",
		Usage: "Merge Twitch, YouTube, Kick and Joystick chat into one overlay stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "config.yaml",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			resolveKickCmd(),
		},
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("multichat failed", "error", err)
		os.Exit(1)
	}
}

// setupLogging configures the default slog logger from LOG_LEVEL and LOG_FORMAT
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "unknown LOG_LEVEL %q, using info\n", os.Getenv("LOG_LEVEL"))
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
