package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vidrelay/internal/channel"
	"vidrelay/internal/config"
	"vidrelay/internal/messages"
	"vidrelay/internal/metrics"
	"vidrelay/internal/relay"
	"vidrelay/internal/resolver"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string   // overridable via --config flag
	envFiles   []string // overridable via --env-file flag
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "vidrelay",
		Short: "Telegram relay that turns Facebook video links into videos",
		Long: "vidrelay receives Facebook video links in Telegram, asks a resolution backend for a\n" +
			"playable URL and sends the video back to the chat, or a direct link when upload fails.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFiles...)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.vidrelay/config.json if present)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env files to load before reading the environment")

	root.AddCommand(serveCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(initCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config flag, else the default path when a
// file exists there, else "" (environment only).
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	def := config.DefaultConfigPath()
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return ""
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	logger = newLogger(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func newLogger(level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newResolver(cfg *config.Config, catalog *messages.Catalog) *resolver.Client {
	return resolver.New(resolver.Config{
		BackendURL:      cfg.Backend.URL,
		BackendTimeout:  cfg.Backend.Timeout(),
		RedirectTimeout: cfg.Redirect.Timeout(),
		DefaultTitle:    catalog.DefaultTitle,
		Logger:          logger,
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Telegram relay",
		Long:  "Polls Telegram for messages and runs the resolve-and-deliver pipeline for each. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("missing or invalid configuration", "err", err)
		return err
	}

	catalog, err := messages.Load(cfg.MessagesFile, logger)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegram := channel.NewTelegram(channel.TelegramConfig{
		Token:            cfg.Telegram.Token,
		AllowFrom:        cfg.Telegram.AllowedUserIDs(),
		ParseMode:        cfg.Telegram.ParseMode,
		PollTimeout:      cfg.Telegram.PollTimeoutSeconds,
		UploadMode:       cfg.Upload.Mode,
		UnauthorizedText: catalog.Unauthorized,
		Logger:           logger,
	})
	if err := telegram.Connect(); err != nil {
		return err
	}

	pipeline := relay.New(relay.Config{
		Transport:         telegram,
		Resolver:          newResolver(cfg, catalog),
		Messages:          catalog,
		Validator:         relay.NewLinkValidator(cfg.DomainMarker),
		FollowRedirects:   cfg.Redirect.Enabled,
		Headers:           resolver.BrowserHeaders(cfg.Redirect.UserAgent),
		UploadReadTimeout: cfg.Upload.ReadTimeout(),
		FilenameStem:      cfg.Upload.FilenameStem,
		Logger:            logger,
	})

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics listener error", "err", err)
			}
		}()
	}

	logger.Info("relay started. Press Ctrl+C to stop.",
		"version", version,
		"bot", telegram.Username(),
		"upload_mode", cfg.Upload.Mode,
		"follow_redirects", cfg.Redirect.Enabled,
	)

	if err := telegram.Start(ctx, pipeline); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	logger.Info("shutting down, waiting for in-flight messages...")
	if !telegram.Wait(shutdownTimeout) {
		logger.Warn("shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
	logger.Info("shutdown complete")
	return nil
}

func resolveCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "resolve [url]",
		Short: "Ask the resolution backend about a link and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			catalog, err := messages.Load(cfg.MessagesFile, logger)
			if err != nil {
				return fmt.Errorf("messages: %w", err)
			}

			client := newResolver(cfg, catalog)
			video, err := client.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}

			out := struct {
				Title     string `json:"title"`
				DirectURL string `json:"direct_download_url"`
				FinalURL  string `json:"final_url,omitempty"`
				Duration  int    `json:"duration"`
				Ext       string `json:"ext"`
			}{video.Title, video.DirectURL, "", video.DurationSeconds, video.Extension}
			if follow {
				out.FinalURL = client.ResolveFinalURL(cmd.Context(), video.DirectURL, resolver.BrowserHeaders(cfg.Redirect.UserAgent))
			}

			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", true, "also follow redirects on the direct URL")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. backend.timeoutSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			if p := resolveConfigPath(); p != "" {
				fmt.Println(p)
				return
			}
			fmt.Println("(none, environment only)")
		},
	})

	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file that reads secrets from the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg := config.Defaults()
			cfg.Telegram.Token = "${BOT_TOKEN}"
			cfg.Backend.URL = "${FACEBOOK_VIDEO_API_URL}"
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", path)
			return nil
		},
	}
}
