// Command homeagentd is the kernel's process entrypoint: it loads
// configuration, wires the Template Resolver through Orchestrator State
// Machine components together, and exposes the synchronous chat RPC (spec
// §6 "POST /chat"). It is grounded on the teacher's example/cmd/assistant
// main.go: flag-based configuration, a clue logging context, and an
// errc-channel/sync.WaitGroup graceful shutdown driven by SIGINT/SIGTERM;
// adapted here to plain net/http instead of goa-generated endpoint/service
// wrapping, since this kernel carries no goa.design/goa/v3 codegen.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/fieldnote-ai/homeagent/internal/config"
	"github.com/fieldnote-ai/homeagent/internal/executor"
	"github.com/fieldnote-ai/homeagent/internal/finalizer"
	"github.com/fieldnote-ai/homeagent/internal/model/anthropic"
	"github.com/fieldnote-ai/homeagent/internal/orchestrator"
	"github.com/fieldnote-ai/homeagent/internal/planner"
	"github.com/fieldnote-ai/homeagent/internal/ratelimit"
	"github.com/fieldnote-ai/homeagent/internal/replanner"
	"github.com/fieldnote-ai/homeagent/internal/session"
	"github.com/fieldnote-ai/homeagent/internal/session/mongostore"
	"github.com/fieldnote-ai/homeagent/internal/stream"
	"github.com/fieldnote-ai/homeagent/internal/stream/redisstream"
	"github.com/fieldnote-ai/homeagent/internal/telemetry"
	"github.com/fieldnote-ai/homeagent/internal/tools"
	"github.com/fieldnote-ai/homeagent/internal/tools/builtin"
	"github.com/fieldnote-ai/homeagent/internal/verifier"
)

func main() {
	var (
		configF = flag.String("config", "config.yaml", "path to the daemon's YAML configuration file")
		dbgF    = flag.Bool("debug", false, "log request and response bodies")
		redisF  = flag.String("redis-addr", "", "Redis address for session event streaming (empty disables streaming)")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewOtelTracer()
	metrics := telemetry.NewOtelMetrics()

	apiKey := os.Getenv(cfg.Model.APIKeyEnv)
	modelClient, err := anthropic.NewFromAPIKey(apiKey, anthropic.Options{DefaultModel: cfg.Model.Model})
	if err != nil {
		log.Fatal(ctx, err)
	}

	registry := tools.NewRegistry()
	if err := builtin.RegisterReplyToUser(registry); err != nil {
		log.Fatal(ctx, err)
	}
	registry.Freeze()

	limiter := ratelimit.New(0, 0)

	var sink stream.Sink = stream.NoopSink{}
	var redisClient *redis.Client
	if *redisF != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: *redisF})
		s, err := redisstream.NewSink(redisClient)
		if err != nil {
			log.Fatal(ctx, err)
		}
		sink = s
	}

	store, err := buildSessionStore(ctx, cfg, redisClient)
	if err != nil {
		log.Fatal(ctx, err)
	}

	plannerC := planner.New(modelClient,
		planner.WithExemplarBudget(cfg.Planner.ExemplarTokenBudget),
		planner.WithMaxParseRetries(cfg.Planner.MaxParseRetries),
		planner.WithLogger(logger),
	)
	executorC := executor.New(registry, executor.Config{
		MaxParallelSteps:   cfg.Executor.MaxParallelSteps,
		StepTimeoutDefault: cfg.Executor.StepTimeoutDefault(),
		NotifyOnRepair:     cfg.Executor.NotifyOnRepair,
	},
		executor.WithRateLimiter(limiter),
		executor.WithSink(sink),
		executor.WithLogger(logger),
		executor.WithTracer(tracer),
		executor.WithMetrics(metrics),
	)
	verifierC := verifier.New(modelClient, verifier.WithLogger(logger))
	replannerC := replanner.New(modelClient,
		replanner.WithMaxRetries(cfg.Reflector.MaxRetries),
		replanner.WithLogger(logger),
	)
	finalizerC := finalizer.New(finalizer.WithLogger(logger))

	orch := orchestrator.New(plannerC, executorC, verifierC, replannerC, finalizerC, registry,
		orchestrator.WithSink(sink),
		orchestrator.WithLogger(logger),
	)

	srv := &server{orch: orch, store: store, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", srv.handleChat)

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		store.RunWriteBehind(ctx, cfg.Memory.WriteBehindInterval())
	}()

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Print(ctx, log.KV{K: "addr", V: cfg.Server.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = store.Close(shutdownCtx)
	if redisClient != nil {
		_ = redisClient.Close()
	}

	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

// writeBehindStore is the subset of session.Store the daemon drives a
// background flush loop over; both session.FileStore and a thin adapter
// around mongostore.Store (which write-behinds nothing, Mongo already being
// durable per write) satisfy it.
type writeBehindStore interface {
	session.Store
	RunWriteBehind(ctx context.Context, interval time.Duration)
}

// noopWriteBehind adapts a session.Store with no write-behind loop of its
// own (mongostore.Store writes through immediately) to writeBehindStore.
type noopWriteBehind struct {
	session.Store
}

func (noopWriteBehind) RunWriteBehind(ctx context.Context, _ time.Duration) {
	<-ctx.Done()
}

func buildSessionStore(ctx context.Context, cfg *config.Config, _ *redis.Client) (writeBehindStore, error) {
	if cfg.Memory.MongoURI == "" {
		fs, err := session.NewFileStore(cfg.Memory.StoreDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.Memory.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("main: connect mongo: %w", err)
	}
	coll := client.Database(cfg.Memory.MongoDatabase).Collection("sessions")
	store := mongostore.New(coll)
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("main: ensure mongo indexes: %w", err)
	}
	return noopWriteBehind{Store: store}, nil
}

// server wires the orchestrator and session store behind the chat RPC.
type server struct {
	orch   *orchestrator.Orchestrator
	store  writeBehindStore
	logger telemetry.Logger
}

type chatRequest struct {
	SessionID     string `json:"session_id"`
	Text          string `json:"text"`
	RecentSummary string `json:"recent_summary,omitempty"`
}

type chatResponse struct {
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Text == "" {
		http.Error(w, "session_id and text are required", http.StatusBadRequest)
		return
	}

	interactionID := uuid.NewString()
	if _, err := s.store.CreateSession(ctx, req.SessionID, time.Now().UTC()); err != nil {
		s.logger.Error(ctx, "create session failed", "session_id", req.SessionID, "error", err.Error())
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	outcome, err := s.orch.Run(ctx, orchestrator.Request{
		SessionID:     req.SessionID,
		InteractionID: interactionID,
		Text:          req.Text,
		RecentSummary: req.RecentSummary,
	})
	if err != nil {
		s.logger.Error(ctx, "orchestrator run failed", "session_id", req.SessionID, "error", err.Error())
		http.Error(w, "failed to process request", http.StatusInternalServerError)
		return
	}

	attachments := make([]string, 0, len(outcome.Reply.Attachments))
	for _, a := range outcome.Reply.Attachments {
		attachments = append(attachments, a.Path)
	}

	interaction := &session.Interaction{
		InteractionID: interactionID,
		Request:       req.Text,
		Reply: session.Reply{
			Message:     outcome.Reply.Message,
			Details:     outcome.Reply.Details,
			Attachments: attachments,
		},
		Status:      outcome.Status,
		FinalizedAt: time.Now().UTC(),
	}
	if err := s.store.AppendInteraction(ctx, req.SessionID, interaction); err != nil {
		s.logger.Error(ctx, "append interaction failed", "session_id", req.SessionID, "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chatResponse{
		Status:      outcome.Status,
		Message:     outcome.Reply.Message,
		Details:     outcome.Reply.Details,
		Attachments: attachments,
	})
}
