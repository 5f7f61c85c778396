package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/john/multichat/internal/config"
	"github.com/john/multichat/internal/credentials"
	"github.com/john/multichat/internal/hub"
	"github.com/john/multichat/internal/joystick"
	"github.com/john/multichat/internal/kick"
	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/recorder"
	"github.com/john/multichat/internal/server"
	"github.com/john/multichat/internal/supervisor"
	"github.com/john/multichat/internal/twitch"
	"github.com/john/multichat/internal/uploader"
	"github.com/john/multichat/internal/youtube"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the chat ingestion service (default)",
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	slog.Info("multichat starting")

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	h := hub.New()
	enabled := map[message.Platform]bool{
		message.Twitch:   cfg.Twitch.Enabled(),
		message.YouTube:  cfg.YouTube.Enabled(),
		message.Kick:     cfg.Kick.Enabled(),
		message.Joystick: cfg.Joystick.Enabled(),
	}

	supervisors := make(map[message.Platform]*supervisor.Supervisor)
	var twitchStore, joystickStore *credentials.Store

	if enabled[message.Twitch] {
		twitchStore = credentials.New(message.Twitch,
			credentials.TwitchOAuth(cfg.Twitch, cfg.Server.PublicURL),
			credentials.Credentials{
				AccessToken:  cfg.Twitch.AccessToken,
				RefreshToken: cfg.Twitch.RefreshToken,
				Identity:     cfg.Twitch.BotUsername,
			})
		conn := twitch.New(cfg.Twitch, twitchStore, cfg.Server.PublicURL+"/twitch/auth")
		supervisors[message.Twitch] = supervisor.New(conn, supervisor.Policies[message.Twitch],
			supervisor.WithRefresher(twitchStore))
	}

	if enabled[message.YouTube] {
		conn, err := youtube.New(ctx, cfg.YouTube)
		if err != nil {
			return fmt.Errorf("create youtube connector: %w", err)
		}
		supervisors[message.YouTube] = supervisor.New(conn, supervisor.Policies[message.YouTube])
	}

	if enabled[message.Kick] {
		conn := kick.New(cfg.Kick)
		supervisors[message.Kick] = supervisor.New(conn, supervisor.Policies[message.Kick])
	}

	if enabled[message.Joystick] {
		joystickStore = credentials.New(message.Joystick,
			credentials.JoystickOAuth(cfg.Joystick),
			credentials.Credentials{
				AccessToken:  cfg.Joystick.AccessToken,
				RefreshToken: cfg.Joystick.RefreshToken,
			})
		conn := joystick.New(cfg.Joystick, joystickStore, cfg.Server.PublicURL+"/joystick/auth")
		supervisors[message.Joystick] = supervisor.New(conn, supervisor.Policies[message.Joystick],
			supervisor.WithRefresher(joystickStore))
	}

	for _, p := range message.Platforms {
		if !enabled[p] {
			slog.Info("platform disabled, missing configuration", "platform", p)
		}
	}

	var wg sync.WaitGroup

	if cfg.Archive.Enabled {
		if err := startArchive(ctx, cfg, h, &wg); err != nil {
			return err
		}
	}

	srv := server.New(":"+cfg.Server.Port, server.Deps{
		Hub:      h,
		Enabled:  enabled,
		Twitch:   twitchStore,
		Joystick: joystickStore,
		LookupLogin: func(ctx context.Context, accessToken string) (string, error) {
			return twitch.LookupLogin(ctx, &http.Client{Timeout: 10 * time.Second}, twitch.DefaultHelixURL, cfg.Twitch.ClientID, accessToken)
		},
		OnAuthorized: func(p message.Platform) {
			if sup, ok := supervisors[p]; ok && sup.Start(ctx) {
				slog.Info("adapter started after authorization", "platform", p)
			}
		},
		StaticDir: cfg.Server.StaticDir,
	})

	for _, sup := range supervisors {
		sup.OnEvent(h.Publish)
		sup.Start(ctx)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	slog.Info("all components started", "port", cfg.Server.Port, "public_url", cfg.Server.PublicURL)
	if enabled[message.Twitch] {
		slog.Info("twitch auth available", "url", cfg.Server.PublicURL+"/twitch/auth")
	}
	if enabled[message.Joystick] {
		slog.Info("joystick auth available", "url", cfg.Server.PublicURL+"/joystick/auth")
	}

	select {
	case <-sigChan:
		slog.Info("shutdown signal received, initiating graceful shutdown")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down server", "error", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timeout exceeded, forcing exit")
	}

	return nil
}

// startArchive wires the recorder to the hub and the uploader to the recorder
func startArchive(ctx context.Context, cfg *config.Config, h *hub.Hub, wg *sync.WaitGroup) error {
	rec := recorder.New(cfg.Archive.Recorder)
	h.Subscribe(rec)
	fileChan := make(chan string, 100)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rec.Start(ctx, fileChan); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("recorder error", "error", err)
		}
	}()

	if cfg.Archive.S3.Bucket == "" {
		slog.Info("archive upload disabled, keeping files locally", "dir", cfg.Archive.Recorder.OutputDir)
		return nil
	}

	client, err := uploader.NewS3Client(ctx, cfg.Archive.S3)
	if err != nil {
		return fmt.Errorf("create S3 client: %w", err)
	}
	up := uploader.New(client, cfg.Archive.S3.Bucket, cfg.Archive.Uploader)
	if err := up.ScanAndUploadExisting(ctx, cfg.Archive.Recorder.OutputDir); err != nil {
		slog.Warn("failed to scan for existing files", "error", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := up.Start(ctx, fileChan); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("uploader error", "error", err)
		}
	}()
	return nil
}
