// chatclient joins a Plumbline job chat from the terminal.
// Usage: go run ./cmd/chatclient --config configs/chatclient.example.yaml --channel 42
//
// Lines typed on stdin are sent as text messages. /image, /file and /link
// send a URL of that type and /quit exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/plumbline/chat-client/internal/chat"
	"github.com/plumbline/chat-client/internal/config"
	"github.com/plumbline/chat-client/internal/metrics"
	"github.com/plumbline/chat-client/internal/version"
)

var errQuit = errors.New("quit requested")

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	channel := flag.String("channel", "", "chat channel id (overrides config)")
	token := flag.String("token", "", "access token (overrides config, defaults to $PLUMBLINE_TOKEN)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	overrides := flagOverrides{channel: *channel, token: *token}
	if overrides.token == "" {
		overrides.token = os.Getenv("PLUMBLINE_TOKEN")
	}

	cfg, err := loadConfig(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging on stderr so stdout stays readable
	var level slog.LevelVar
	level.Set(cfg.Log.SlogLevel())
	if *verbose {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting chat client",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"base_url", cfg.Server.BaseURL,
	)

	if err := run(cfg, *configPath, overrides, &level, *verbose, logger); err != nil {
		logger.Error("chat client failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chat client stopped")
}

// flagOverrides are command-line values that win over the config file,
// including on reload.
type flagOverrides struct {
	channel string
	token   string
}

func (o flagOverrides) apply(cfg *config.ClientConfig) {
	if o.channel != "" {
		cfg.Chat.ChannelID = o.channel
	}
	if o.token != "" {
		cfg.Chat.Token = o.token
	}
}

// loadConfig reads path when given, applies flag overrides and validates.
func loadConfig(path string, overrides flagOverrides) (*config.ClientConfig, error) {
	cfg := &config.ClientConfig{}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrides.apply(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.ClientConfig, configPath string, overrides flagOverrides, level *slog.LevelVar, verbose bool, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewChat(reg)

	dialer := chat.NewWSDialer(cfg.WSConfig(), logger)
	mgr := chat.NewManager(cfg.ManagerConfig(), dialer,
		chat.WithLogger(logger),
		chat.WithRecorder(recorder),
		chat.WithMessageHandler(func(m chat.Message) {
			fmt.Fprintln(os.Stdout, formatMessage(m))
		}),
		chat.WithStateHandler(func(s chat.State) {
			logger.Info("connection state changed", "state", s.String())
		}),
		chat.WithErrorHandler(func(msg string) {
			fmt.Fprintf(os.Stdout, "! %s\n", msg)
		}),
	)
	defer mgr.Disconnect()

	if err := mgr.Connect(cfg.Chat.ChannelID, cfg.Chat.Token); err != nil {
		if !errors.Is(err, chat.ErrMissingEndpoint) {
			return fmt.Errorf("connect: %w", err)
		}
		logger.Warn("no channel or token yet, waiting for config update")
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/health", createHealthHandler(mgr))
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, logger, func(next *config.ClientConfig) {
				overrides.apply(next)
				if !verbose {
					level.Set(next.Log.SlogLevel())
				}
				if err := mgr.Update(next.Chat.ChannelID, next.Chat.Token); err != nil {
					logger.Warn("config reload did not reconnect", "error", err)
				}
			})
		})
	}

	g.Go(func() error {
		return readConsole(gctx, os.Stdin, mgr, logger)
	})

	err := g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// sender is the part of the manager the console loop writes to.
type sender interface {
	Send(content string, messageType chat.MessageType) bool
}

// readConsole sends each stdin line until ctx is done, EOF, or /quit.
func readConsole(ctx context.Context, r io.Reader, s sender, logger *slog.Logger) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Error("reading stdin", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			cmd, err := parseLine(line)
			if errors.Is(err, errEmptyLine) {
				continue
			}
			if err != nil {
				fmt.Fprintf(os.Stdout, "! %v\n", err)
				continue
			}
			if cmd.quit {
				return errQuit
			}
			if !s.Send(cmd.content, cmd.messageType) {
				fmt.Fprintln(os.Stdout, "! message not sent, chat is not connected")
			}
		}
	}
}
