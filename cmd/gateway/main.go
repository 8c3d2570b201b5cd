package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/application"
	"github.com/relaywing/mediator/internal/domain/entity"
	"github.com/relaywing/mediator/internal/domain/port"
	"github.com/relaywing/mediator/internal/infrastructure/config"
	"github.com/relaywing/mediator/internal/infrastructure/eventbus"
	"github.com/relaywing/mediator/internal/infrastructure/llm"
	"github.com/relaywing/mediator/internal/infrastructure/logger"
	"github.com/relaywing/mediator/internal/infrastructure/persistence"
)

const appVersion = "0.1.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", config.AppName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	log, err := logger.NewLogger(logger.Config{Level: "info", Format: "console", OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting mediator", zap.String("version", appVersion))

	if err := config.Bootstrap(log); err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	events := eventbus.NewInMemoryBus(log, 256)
	bus := newConsoleBus(os.Stdin, os.Stdout)

	deps := application.Deps{
		Backend:        llm.NewHTTPBackend(cfg.LLM.BackendBaseURL),
		Sender:         bus,
		Events:         events,
		DeadLetterSink: persistence.NewDeadLetterRepository(db),
		AuditSink:      persistence.NewCredentialAuditRepository(db),
	}

	orch, err := application.New(cfg, deps, log)
	if err != nil {
		log.Fatal("failed to construct orchestrator", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Initialize(ctx); err != nil {
		log.Fatal("failed to initialize orchestrator", zap.Error(err))
	}

	bus.unsubscribe = bus.Subscribe(orch.Ingest)
	bus.Start(ctx)

	config.Watch(ctx, log, orch.ApplyReload)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	orch.Shutdown(shutdownCtx)

	sqlDB, sqlErr := db.DB()
	var dbCloseErr error
	if sqlErr == nil {
		dbCloseErr = sqlDB.Close()
	}
	if err := multierr.Combine(sqlErr, dbCloseErr, log.Sync()); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown cleanup error: %v\n", err)
	}

	log.Info("mediator stopped")
}

// consoleBus is a minimal stdin/stdout adapter satisfying port.OutboundSender
// and driving port.InboundEventSource's Ingest callback. The real inbound
// event bus (platform wire decoder) is an external collaborator per spec.md
// §1/§6; this is only a runnable stand-in for local operation.
type consoleBus struct {
	in          *bufio.Scanner
	out         *bufio.Writer
	handler     func(entity.InboundMessage)
	unsubscribe func()
}

func newConsoleBus(in *os.File, out *os.File) *consoleBus {
	return &consoleBus{in: bufio.NewScanner(in), out: bufio.NewWriter(out)}
}

func (b *consoleBus) Subscribe(handler func(entity.InboundMessage)) func() {
	b.handler = handler
	return func() {}
}

func (b *consoleBus) Start(ctx context.Context) {
	go func() {
		for b.in.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := strings.TrimSpace(b.in.Text())
			if line == "" {
				continue
			}
			kind := entity.KindText
			if strings.HasPrefix(line, "/") {
				kind = entity.KindCommand
				line = strings.TrimPrefix(line, "/")
			}
			msg, err := entity.NewInboundMessage(uuid.NewString(), "console-user", "console", line, time.Now(), kind)
			if err != nil {
				continue
			}
			if b.handler != nil {
				b.handler(msg)
			}
		}
	}()
}

func (b *consoleBus) Send(req port.OutboundSendRequest) error {
	fmt.Fprintf(b.out, "<< %s\n", req.Content)
	return b.out.Flush()
}

func printUsage() {
	fmt.Printf(`mediator v%s

Usage:
  gateway           Start the chat mediator
  gateway version   Show version
  gateway help      Show this help

Environment:
  MEDIATOR_*        Configuration overrides (see ~/.mediator/config.yaml)
`, appVersion)
}
