package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"agentflow/internal/api"
	"agentflow/internal/capability"
	"agentflow/internal/config"
	"agentflow/internal/delivery"
	"agentflow/internal/dispatch"
	"agentflow/internal/domain"
	"agentflow/internal/routing"
	"agentflow/internal/schedule"
	"agentflow/internal/worker"
)

func main() {
	cfg := config.Load()

	var (
		mode      = flag.String("mode", "serve", "run mode: serve, interactive, batch, demo, selftest")
		batchFile = flag.String("batch-file", "", "YAML file of requests for batch mode")
		addr      = flag.String("addr", "", "HTTP bind address (overrides env)")
		dbPath    = flag.String("db", "", "SQLite DB path (overrides env)")
		workers   = flag.Int("workers", 0, "max concurrent worker invocations (overrides env)")
		tick      = flag.Duration("tick", 0, "scheduler tick interval (overrides env)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *tick > 0 {
		cfg.TickInterval = *tick
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := schedule.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	store := schedule.NewSQLiteStore(db)

	client := capability.NewClient(cfg.Capability.BaseURL, cfg.Capability.APIKey, cfg.Capability.Model, cfg.Capability.Timeout)

	var pipeline worker.Deliverer
	if cfg.SMTP.Sender != "" && cfg.SMTP.Password != "" {
		transport := delivery.NewSMTPTransport(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Sender, cfg.SMTP.SenderName, cfg.SMTP.Password)
		pipeline = delivery.NewPipeline(transport, delivery.Policy{
			Initial:     cfg.Delivery.InitialBackoff,
			Max:         cfg.Delivery.MaxBackoff,
			MaxAttempts: cfg.Delivery.MaxAttempts,
		}, store)
	} else {
		log.Warn().Msg("SMTP sender not configured; notifier worker is disabled")
	}

	registry := worker.NewRegistry(client, pipeline, worker.Config{ResearchDeep: cfg.ResearchDeep})
	engine := routing.NewEngine(client, cfg.Capability.Timeout)
	dispatcher := dispatch.New(engine, registry, cfg.Workers, 256, 2*time.Minute)

	switch *mode {
	case "serve":
		runServe(cfg, dispatcher, store)
	case "interactive":
		runInteractive(dispatcher)
	case "batch":
		runBatch(dispatcher, *batchFile)
	case "demo":
		runDemo(dispatcher, store)
	case "selftest":
		runSelfTest(cfg, client)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}

func runServe(cfg *config.Config, dispatcher *dispatch.Dispatcher, store schedule.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(dispatchDone)
	}()

	sched := schedule.NewScheduler(store, dispatcher, cfg.TickInterval)
	go sched.Start(ctx)

	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServer(dispatcher, store)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)

	sched.Stop()
	cancel()
	<-dispatchDone
	dispatcher.Wait()
	log.Info().Msg("dispatcher drained")
}

func runInteractive(dispatcher *dispatch.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	fmt.Println("agentflow interactive mode. Type a request, 'quit' to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		id, err := dispatcher.SubmitRequest(line)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		dispatcher.Wait()
		printTask(dispatcher, id)
	}
	dispatcher.Wait()
}

type batchSpec struct {
	Requests []struct {
		Text string `yaml:"text"`
		Deep bool   `yaml:"deep"`
	} `yaml:"requests"`
}

func runBatch(dispatcher *dispatch.Dispatcher, file string) {
	if file == "" {
		log.Fatal().Msg("batch mode requires -batch-file")
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("read batch file")
	}
	var spec batchSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("parse batch file")
	}
	if len(spec.Requests) == 0 {
		log.Fatal().Str("file", file).Msg("batch file has no requests")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	ids := make([]string, 0, len(spec.Requests))
	for _, r := range spec.Requests {
		id, err := dispatcher.SubmitRequest(r.Text)
		if err != nil {
			log.Error().Err(err).Str("text", r.Text).Msg("submit failed")
			continue
		}
		ids = append(ids, id)
	}
	dispatcher.Wait()
	for _, id := range ids {
		printTask(dispatcher, id)
	}
}

func runDemo(dispatcher *dispatch.Dispatcher, store schedule.Store) {
	demo := []string{
		"research the latest developments in quantum computing",
		"send a notification that the weekly report is ready",
		"what are three good books on distributed systems",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	seedDemoSchedule(ctx, store)

	ids := make([]string, 0, len(demo))
	for _, text := range demo {
		id, err := dispatcher.SubmitRequest(text)
		if err != nil {
			log.Error().Err(err).Msg("demo submit failed")
			continue
		}
		ids = append(ids, id)
	}
	dispatcher.Wait()
	for _, id := range ids {
		printTask(dispatcher, id)
	}
}

// seedDemoSchedule creates a disabled example entry the first time demo
// mode runs against an empty store, so the schedule API has something to
// show without sending anything.
func seedDemoSchedule(ctx context.Context, store schedule.Store) {
	existing, err := store.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("demo seed: list schedules")
		return
	}
	if len(existing) > 0 {
		return
	}
	id, err := store.Create(ctx, domain.ScheduleEntry{
		ID:              domain.NewScheduleID(),
		Topic:           "quantum computing",
		Recipient:       "you@example.com",
		TimeOfDay:       "09:00",
		Cadence:         domain.Cadence{Kind: domain.CadenceDaily},
		SubjectTemplate: "Daily quantum briefing - {date}",
		Enabled:         false,
	})
	if err != nil {
		log.Error().Err(err).Msg("demo seed: create schedule")
		return
	}
	log.Info().Str("schedule_id", id).Msg("seeded disabled example schedule")
}

func runSelfTest(cfg *config.Config, client *capability.Client) {
	fmt.Println("configuration:")
	fmt.Printf("  capability backend: %s (model %s)\n", cfg.Capability.BaseURL, cfg.Capability.Model)
	fmt.Printf("  smtp sender:        %s via %s:%d\n", cfg.SMTP.Sender, cfg.SMTP.Host, cfg.SMTP.Port)
	fmt.Printf("  workers:            %d\n", cfg.Workers)
	fmt.Printf("  scheduler tick:     %s\n", cfg.TickInterval)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Capability.Timeout)
	defer cancel()
	reply, err := client.Generate(ctx, "Reply with the single word: ready", "")
	if err != nil {
		log.Fatal().Err(err).Msg("capability backend check failed")
	}
	fmt.Printf("capability backend: ok (%q)\n", strings.TrimSpace(reply))
}

func printTask(dispatcher *dispatch.Dispatcher, id string) {
	t, ok := dispatcher.Get(id)
	if !ok {
		return
	}
	fmt.Printf("\n[%s] %s", t.ID, t.Status)
	if t.Decision != nil {
		fmt.Printf(" (worker=%s source=%s)", t.Decision.WorkerType, t.Decision.Source)
	}
	fmt.Println()
	if t.Result != nil {
		fmt.Println(t.Result.Content)
	}
	if t.Error != "" {
		fmt.Println("error:", t.Error)
	}
}
