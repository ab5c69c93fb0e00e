// ABOUTME: Entry point for the convo-sync development chat server
// ABOUTME: Subcommands serve the HTTP+SSE API, mint tokens and post messages from the shell

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/2389/convo-sync/internal/api"
	"github.com/2389/convo-sync/internal/auth"
	"github.com/2389/convo-sync/internal/config"
	"github.com/2389/convo-sync/internal/devserver"
	"github.com/2389/convo-sync/internal/eventbus"
	"github.com/2389/convo-sync/internal/logging"
	"github.com/2389/convo-sync/internal/metrics"
	"github.com/2389/convo-sync/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `

  ___ ___  _ ____   _____        ___ _   _ _ __   ___
 / __/ _ \| '_ \ \ / / _ \ _____/ __| | | | '_ \ / __|
| (_| (_) | | | \ V / (_) |_____\__ \ |_| | | | | (__
 \___\___/|_| |_|\_/ \___/      |___/\__, |_| |_|\___|
                                     |___/
`

// seedConvos are created on first start so clients have somewhere to talk.
var seedConvos = []store.Convo{
	{ID: "general", Title: "General"},
	{ID: "random", Title: "Random"},
}

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

// loadConfig loads the config file, falling back to defaults when it does
// not exist.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), "(defaults)", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: convo-devserver <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve [--memory]                      Start the development server")
		fmt.Println("  token --sub NAME [--ttl 24h]          Print a signed token for NAME")
		fmt.Println("  say --convo ID --sender NAME TEXT     Post a message as NAME")
		fmt.Println("  health                                Check server health")
		os.Exit(1)
	}

	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "say":
		err = runSay(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	memory := fs.Bool("memory", false, "keep everything in memory instead of SQLite")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	var st store.Store
	if *memory {
		st = store.NewMockStore()
	} else {
		sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		st = sqlStore
	}
	defer st.Close()

	if err := seed(ctx, st); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := eventbus.New(logger, m)
	defer bus.Close()

	opts := devserver.Options{
		Store:  st,
		Bus:    bus,
		Logger: logger,
	}
	if cfg.Metrics.Enabled {
		opts.Gatherer = reg
		opts.MetricsPath = cfg.Metrics.Path
	}
	authMode := "none (X-Convo-User header)"
	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating verifier: %w", err)
		}
		opts.Verifier = verifier
		authMode = "JWT"
	}

	srv, err := devserver.New(opts)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	green := color.New(color.FgGreen)
	storeDesc := cfg.Database.Path
	if *memory {
		storeDesc = "in-memory"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Store:   %s\n", storeDesc)
	green.Print("    ▶ ")
	fmt.Printf("Auth:    %s\n", authMode)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics: %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting convo-devserver",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	return srv.Run(ctx, cfg.Server.HTTPAddr)
}

func seed(ctx context.Context, st store.Store) error {
	now := time.Now().UTC()
	for _, c := range seedConvos {
		c.CreatedAt, c.UpdatedAt = now, now
		err := st.CreateConvo(ctx, &c)
		if err != nil && !errors.Is(err, store.ErrConvoExists) {
			return fmt.Errorf("seeding %s: %w", c.ID, err)
		}
	}
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	sub := fs.String("sub", "", "user id to put in the token subject")
	ttl := fs.Duration("ttl", 0, "token lifetime (default from auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sub == "" {
		return errors.New("--sub is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, err := verifier.Generate(*sub, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runSay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("say", flag.ExitOnError)
	convoID := fs.String("convo", "general", "conversation to post to")
	sender := fs.String("sender", "", "user to post as")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *sender == "" || text == "" {
		return errors.New("usage: say --convo ID --sender NAME TEXT")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	opts := []api.Option{api.WithUser(*sender)}
	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return err
		}
		token, err := verifier.Generate(*sender, time.Minute)
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		opts = append(opts, api.WithToken(token))
	}

	client, err := api.New(cfg.Client.BaseURL, opts...)
	if err != nil {
		return err
	}

	msg, err := client.SendMessage(ctx, *convoID, text, uuid.New().String())
	if err != nil {
		return fmt.Errorf("posting message: %w", err)
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("#%s seq=%d id=%s\n", *convoID, msg.Seq, msg.ID)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := api.New(cfg.Client.BaseURL)
	if err != nil {
		return err
	}
	if _, err := client.ListConvos(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("healthy")
	return nil
}
