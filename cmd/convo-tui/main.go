// ABOUTME: Terminal chat client that keeps one conversation in sync with the development server
// ABOUTME: Wires the API client, event pump, conversation agent, receipts and lifecycle into Bubble Tea

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/convo-sync/internal/api"
	"github.com/2389/convo-sync/internal/config"
	"github.com/2389/convo-sync/internal/convo"
	"github.com/2389/convo-sync/internal/eventbus"
	"github.com/2389/convo-sync/internal/lifecycle"
	"github.com/2389/convo-sync/internal/logging"
	"github.com/2389/convo-sync/internal/metrics"
	"github.com/2389/convo-sync/internal/receipts"
)

// getConfigPath returns the path to the config file.
// Priority: CONVO_CONFIG env var > XDG_CONFIG_HOME/convo-sync/config.yaml > ~/.config/convo-sync/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CONVO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "convo-sync", "config.yaml")
}

// getToken returns the token from the environment, then the config.
func getToken(cfg *config.Config) string {
	if token := os.Getenv("CONVO_TOKEN"); token != "" {
		return token
	}
	return cfg.Client.Token
}

// tokenSubject reads the sub claim without verifying the signature; the
// server does the verification.
func tokenSubject(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	return claims.GetSubject()
}

// serveMetrics exposes the client's collectors on cfg.Addr until stop is called.
func serveMetrics(cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", cfg.Addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", cfg.Addr, "path", cfg.Path)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	convoFlag := flag.String("convo", "", "conversation to open (default from client.convo_id)")
	userFlag := flag.String("user", "", "viewer id when the server runs without auth")
	serverFlag := flag.String("server", "", "server base URL (default from client.base_url)")
	logFlag := flag.String("log", filepath.Join(os.TempDir(), "convo-tui.log"), "log file")
	flag.Parse()

	cfg, err := config.Load(getConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *convoFlag != "" {
		cfg.Client.ConvoID = *convoFlag
	}
	if *serverFlag != "" {
		cfg.Client.BaseURL = *serverFlag
	}
	if *userFlag != "" {
		cfg.Client.UserID = *userFlag
	}
	cfg.Client.Token = getToken(cfg)

	if cfg.Client.UserID == "" && cfg.Client.Token != "" {
		sub, err := tokenSubject(cfg.Client.Token)
		if err != nil {
			return err
		}
		cfg.Client.UserID = sub
	}
	if err := cfg.ValidateClient(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logFile, err := os.OpenFile(*logFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger := logging.New(cfg.Logging, logFile)

	opts := []api.Option{api.WithLogger(logger), api.WithUser(cfg.Client.UserID)}
	if cfg.Client.Token != "" {
		opts = append(opts, api.WithToken(cfg.Client.Token))
	}
	client, err := api.New(cfg.Client.BaseURL, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	syncMetrics := metrics.New(reg)
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics, reg, logger)
		defer stop()
	}

	bus := eventbus.New(logger, syncMetrics)
	defer bus.Close()
	go func() {
		err := client.Pump(ctx, cfg.Client.ConvoID, bus.Publish)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event stream stopped", "error", err)
		}
	}()

	agent := convo.New(convo.Params{
		ConvoID: cfg.Client.ConvoID,
		Self:    cfg.Client.UserID,
		Client:  client,
		Events:  bus,
	},
		convo.WithLogger(logger),
		convo.WithConfig(cfg.Sync.AgentConfig()),
		convo.WithMetrics(syncMetrics),
	)
	defer agent.Destroy()

	coord := receipts.New(client, cfg.Receipts.CoordinatorConfig(), logger, syncMetrics)
	defer coord.Close()

	ctrl := lifecycle.New(agent, coord,
		lifecycle.WithSettle(cfg.Lifecycle.Settle),
		lifecycle.WithLogger(logger),
	)
	defer ctrl.Close()

	// Only the newest snapshot matters to the UI, so the listener never blocks.
	updates := make(chan *convo.State, 1)
	unsubscribe := agent.Subscribe(func(st *convo.State) {
		select {
		case updates <- st:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- st:
			default:
			}
		}
	})
	defer unsubscribe()

	logger.Info("starting convo-tui",
		"server", cfg.Client.BaseURL,
		"convo_id", cfg.Client.ConvoID,
		"user", cfg.Client.UserID,
	)

	m := newModel(agent, ctrl, updates, cfg.Client.UserID, strings.TrimRight(cfg.Client.BaseURL, "/"))
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus())
	_, err = p.Run()
	return err
}
