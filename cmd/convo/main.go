package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mcastell/convo/internal/config"
	"github.com/mcastell/convo/internal/contacts"
	"github.com/mcastell/convo/internal/engine"
	"github.com/mcastell/convo/internal/flow"
	"github.com/mcastell/convo/internal/gateway"
	"github.com/mcastell/convo/internal/google"
	"github.com/mcastell/convo/internal/intent"
	"github.com/mcastell/convo/internal/llm"
	"github.com/mcastell/convo/internal/schedule"
	"github.com/mcastell/convo/internal/store"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("convo v%s\n", version)
	case "serve":
		if err := serve(); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Convo - Conversational Automation Gateway")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  convo serve     Start the gateway server")
	fmt.Println("  convo version   Show version info")
}

func serve() error {
	// Setup structured logging
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	// Resolve CONVO_HOME
	home := config.ResolveHome()
	slog.Info("Convo starting", "version", version, "home", home)

	// Ensure directories
	exportDir := filepath.Join(home, "data", "exports")
	for _, dir := range []string{
		exportDir,
		filepath.Join(home, "logs"),
	} {
		os.MkdirAll(dir, 0755)
	}

	// Load config
	cfgPath := config.ResolveConfigPath("")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}
	config.Set(cfg)

	zone, err := time.LoadLocation(cfg.Business.Timezone)
	if err != nil {
		slog.Warn("invalid timezone, falling back to UTC", "timezone", cfg.Business.Timezone, "error", err)
		zone = time.UTC
	}

	// Persistence
	st := store.New(cfg.Redis)
	defer st.Close()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		pingCancel()
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}
	pingCancel()

	// External collaborators
	aiClient := llm.NewOpenAIClient()
	calendar := google.NewCalendarClient(st, zone)
	directory := google.NewPeopleClient(st)
	contactCache := contacts.NewCache(directory, st, contacts.DefaultTTL)

	// Reply path: outbound sends go to the connected channel bridge.
	conns := gateway.NewConnManager()
	transport := gateway.NewBridgeTransport(conns, gateway.ChannelWhatsApp)
	machine := flow.NewMachine(st, transport, st)

	router := intent.NewRouter(aiClient, st, zone)
	scheduler := schedule.New(aiClient, calendar, zone)

	eng := engine.New(engine.Options{
		Conversations: st,
		Router:        router,
		Machine:       machine,
		Appointments:  scheduler,
		Calendar:      calendar,
		ContactSync:   contactCache,
		Transport:     transport,
		Zone:          zone,
		ExportDir:     exportDir,
		QuietPeriod:   time.Duration(cfg.Business.QuietPeriod) * time.Millisecond,
		DedupTTL:      time.Minute,
	})
	defer eng.Close()

	// Background jobs
	jobs, err := engine.StartJobs(eng, st)
	if err != nil {
		return fmt.Errorf("start jobs: %w", err)
	}
	defer jobs.Stop()

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	// Hot-reload config on file changes
	go config.Watch(ctx, cfgPath)

	// Startup status report
	states := cfg.FeatureStates()
	slog.Info("feature status",
		"business", cfg.Business.ID,
		"timezone", cfg.Business.Timezone,
		"quietPeriodMs", cfg.Business.QuietPeriod,
		"chatbot", states[config.FeatureChatbot],
		"contacts", states[config.FeatureContacts],
		"calendar", states[config.FeatureCalendar],
		"history", states[config.FeatureHistory],
		"persistence", states[config.FeaturePersistence])

	srv := gateway.NewServer(eng, st, conns, zone)
	return srv.Start(ctx)
}
