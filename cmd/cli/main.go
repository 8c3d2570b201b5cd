package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaywing/mediator/internal/application"
	"github.com/relaywing/mediator/internal/infrastructure/config"
	"github.com/relaywing/mediator/internal/infrastructure/llm"
	"github.com/relaywing/mediator/internal/infrastructure/logger"
	"github.com/relaywing/mediator/internal/infrastructure/persistence"
	"github.com/relaywing/mediator/internal/interfaces/cli"
	"github.com/relaywing/mediator/internal/interfaces/tui"
)

const cliVersion = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mediatorctl",
		Short: "mediatorctl — operator commands for the chat mediator",
	}

	rootCmd.AddCommand(
		newStatusCmd(),
		newQueueCmd(),
		newStaminaCmd(),
		newAPIKeysCmd(),
		newResetKeyCmd(),
		newSwitchKeyCmd(),
		newStartCmd(),
		newStopCmd(),
		newDashboardCmd(),
		newPersonaCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mediatorctl v%s\n", cliVersion)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the full observability snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
				fmt.Println(r.RenderSnapshot(o.Snapshot()))
			})
		},
	}
}

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "inspect or control the per-context queues"}
	queueCmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "show queue depths",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
					fmt.Println(r.RenderLine(o.QueueStatus()))
				})
			},
		},
		&cobra.Command{
			Use:   "flush [contextID]",
			Short: "force-flush one context, or all contexts if omitted",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				contextID := ""
				if len(args) > 0 {
					contextID = args[0]
				}
				return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
					fmt.Println(r.RenderLine(o.QueueFlush(contextID)))
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "discard every pending message in every queue",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
					fmt.Println(r.RenderLine(o.QueueClear()))
				})
			},
		},
	)
	return queueCmd
}

func newStaminaCmd() *cobra.Command {
	staminaCmd := &cobra.Command{
		Use:   "stamina",
		Short: "show the stamina gauge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
				fmt.Println(r.RenderLine(o.StaminaStatus()))
			})
		},
	}
	staminaCmd.AddCommand(
		&cobra.Command{
			Use:   "rest",
			Short: "toggle rest mode",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
					fmt.Println(r.RenderLine(o.StaminaRest(!o.Snapshot().Stamina.RestMode)))
				})
			},
		},
		&cobra.Command{
			Use:   "set <value>",
			Short: "force the stamina gauge to a value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var n float64
				if _, err := fmt.Sscanf(args[0], "%f", &n); err != nil {
					return fmt.Errorf("invalid stamina value %q", args[0])
				}
				return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
					fmt.Println(r.RenderLine(o.StaminaSet(n)))
				})
			},
		},
	)
	return staminaCmd
}

func newAPIKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apikeys",
		Short: "list credential fingerprints and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
				fmt.Println(r.RenderLine(o.APIKeys()))
			})
		},
	}
}

func newResetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resetkey <prefix>",
		Short: "clear error and block state on credentials whose secret starts with a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
				fmt.Println(r.RenderLine(o.ResetKey(args[0])))
			})
		},
	}
}

func newSwitchKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switchkey",
		Short: "force the rotation cursor forward",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
				fmt.Println(r.RenderLine(o.SwitchKey()))
			})
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "re-enable group-chat processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
				fmt.Println(r.RenderLine(o.Start()))
			})
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "disable group-chat processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
				fmt.Println(r.RenderLine(o.Stop()))
			})
		},
	}
}

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "live terminal dashboard of credentials, stamina, and queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(func(o *application.Orchestrator, r *cli.Renderer) {
				if err := tui.Run(tui.Config{Surface: o}); err != nil {
					fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
				}
			})
		},
	}
}

func newPersonaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "persona",
		Short: "render the bot's persona.md",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(config.HomeDir(), "persona.md")
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			fmt.Println(cli.NewRenderer(terminalWidth()).RenderMarkdown(string(content)))
			return nil
		},
	}
}

// withOrchestrator loads configuration, opens the shared audit/dead-letter
// store, and constructs a throwaway Orchestrator just long enough to run a
// single admin command against it. There is no separate admin transport
// (an HTTP admin surface is explicitly out of scope): operator commands run
// in-process, reading and mutating the same durable store the gateway uses.
func withOrchestrator(fn func(o *application.Orchestrator, r *cli.Renderer)) error {
	log, err := logger.NewLogger(logger.Config{Level: "error", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	deps := application.Deps{
		Backend:        llm.NewHTTPBackend(cfg.LLM.BackendBaseURL),
		DeadLetterSink: persistence.NewDeadLetterRepository(db),
		AuditSink:      persistence.NewCredentialAuditRepository(db),
	}

	orch, err := application.New(cfg, deps, log)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := orch.Initialize(context.Background()); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer orch.Shutdown(context.Background())

	fn(orch, cli.NewRenderer(terminalWidth()))
	return nil
}

func terminalWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(cols), "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return 100
}
