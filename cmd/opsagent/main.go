// Command opsagent is the operator-facing entrypoint to the autonomy
// system: it wires every subsystem together and exposes the operations
// an incident responder or a deployment pipeline needs (§6, §9).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/opsagent/pkg/approval"
	"github.com/codeready-toolchain/opsagent/pkg/autonomy"
	"github.com/codeready-toolchain/opsagent/pkg/config"
	"github.com/codeready-toolchain/opsagent/pkg/database"
	"github.com/codeready-toolchain/opsagent/pkg/distiller"
	"github.com/codeready-toolchain/opsagent/pkg/exectool"
	"github.com/codeready-toolchain/opsagent/pkg/killswitch"
	"github.com/codeready-toolchain/opsagent/pkg/ledger"
	"github.com/codeready-toolchain/opsagent/pkg/memory/episodic"
	"github.com/codeready-toolchain/opsagent/pkg/memory/semantic"
	"github.com/codeready-toolchain/opsagent/pkg/policy"
	"github.com/codeready-toolchain/opsagent/pkg/reasoning"
	"github.com/codeready-toolchain/opsagent/pkg/sanitize"
)

// Exit codes per §6's "exit status conventions for any embedding CLI".
const (
	exitResolved        = 0
	exitEscalated       = 10
	exitBlockedByPolicy = 20
	exitKilled          = 30
	exitInternalError   = 40
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitInternalError)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:   "opsagent",
		Short: "Autonomous operations agent: perceive, reason, act, verify, learn",
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")

	root.AddCommand(
		newRunCmd(&configDir),
		newDistillCmd(&configDir),
		newVerifyLedgerCmd(&configDir),
		newResetKillSwitchCmd(&configDir),
	)
	return root
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConfig loads .env from configDir then builds the umbrella Config,
// matching the teacher's own bootstrap order in its former main.go.
func loadConfig(ctx context.Context, configDir string) (*config.Config, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("initializing configuration: %w", err)
	}
	stats := cfg.Stats()
	slog.Info("configuration loaded", "tools", stats.Tools, "custom_rules", stats.CustomRules)
	return cfg, nil
}

// buildKillSwitch wires Redis fan-out when a Redis address is
// configured, falling back to a single-process switch otherwise (§9).
func buildKillSwitch(ctx context.Context, cfg *config.Config) *killswitch.Switch {
	if cfg.Storage.RedisAddr == "" {
		return killswitch.New()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
	return killswitch.NewWithRedis(ctx, rdb)
}

func newRunCmd(configDir *string) *cobra.Command {
	var incidentID string
	var environment string
	var observationText string
	var modelEndpoint string
	var modelAPIKey string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive one step of an incident through the autonomy loop and exit with its decision's status code",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, *configDir)
			if err != nil {
				return err
			}

			rootDir := cfg.Storage.RootDir
			if rootDir == "" {
				rootDir = "./data"
			}

			episodicStore, err := episodic.Open(filepath.Join(rootDir, "episodic"))
			if err != nil {
				return fmt.Errorf("opening episodic store: %w", err)
			}

			policyEngine, err := policy.NewEngine(cfg.Policy, cfg.ToolRegistry)
			if err != nil {
				return fmt.Errorf("building policy engine: %w", err)
			}

			sink := reasoning.NewHTTPSink(modelEndpoint, modelAPIKey)
			orchestrator := reasoning.New()
			for _, model := range []reasoning.Model{reasoning.ModelClaude, reasoning.ModelChatGPT, reasoning.ModelGemini, reasoning.ModelLocal} {
				orchestrator.ConfigureModel(model, sink)
			}

			executor := exectool.New(filepath.Join(rootDir, "tools"))

			loop, err := autonomy.NewLoop(cfg.ToolRegistry, policyEngine, orchestrator, episodicStore, sanitize.New(), executor.Run, rootDir)
			if err != nil {
				return fmt.Errorf("building autonomy loop: %w", err)
			}

			kill := buildKillSwitch(ctx, cfg)
			defer kill.Close()
			loop.WithKillSwitch(kill)

			ledgerStore, err := ledger.Open(filepath.Join(rootDir, "ledger.jsonl"))
			if err != nil {
				return fmt.Errorf("opening ledger: %w", err)
			}
			defer ledgerStore.Close()
			loop.WithLedger(ledgerStore)

			if cfg.Storage.DatabaseDSN != "" {
				dbCfg, err := database.LoadConfigFromEnv()
				if err != nil {
					return fmt.Errorf("loading approval database config: %w", err)
				}
				gate, err := approval.Open(ctx, dbCfg, filepath.Join(rootDir, "approvals"), approval.DefaultPolicy())
				if err != nil {
					return fmt.Errorf("opening approval gate: %w", err)
				}
				defer gate.Close()
				loop.WithApproval(gate)
			} else {
				slog.Warn("no database configured; every wait_approval decision will block rather than resolve")
			}

			loop.Reset(incidentID, environment)

			decision, result, err := loop.RunStep(ctx, incidentID, autonomy.NewObservation(observationText, "cli", nil))
			if err != nil {
				var breach *autonomy.InvariantBreachError
				if isInvariantBreach(err, &breach) {
					slog.Error("invariant breach", "incident_id", incidentID, "detail", breach.Detail)
					os.Exit(exitInternalError)
				}
				return err
			}

			slog.Info("run_step complete", "incident_id", incidentID, "decision", decision)
			if result != nil {
				slog.Info("outcome", "success", result.Success, "error", result.Error)
			}

			switch decision {
			case policy.Allow:
				os.Exit(exitResolved)
			case policy.Escalate:
				os.Exit(exitEscalated)
			case policy.Block:
				if kill.IsActive() {
					os.Exit(exitKilled)
				}
				os.Exit(exitBlockedByPolicy)
			default:
				os.Exit(exitBlockedByPolicy)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&incidentID, "incident-id", "", "incident identifier (required)")
	cmd.Flags().StringVar(&environment, "environment", "dev", "deployment environment this incident runs against")
	cmd.Flags().StringVar(&observationText, "observation", "", "observation text to feed the loop (required)")
	cmd.Flags().StringVar(&modelEndpoint, "model-endpoint", getEnv("MODEL_ENDPOINT", "http://localhost:11434/reason"), "HTTP endpoint implementing the reasoning contract")
	cmd.Flags().StringVar(&modelAPIKey, "model-api-key", os.Getenv("MODEL_API_KEY"), "bearer token for the model endpoint")
	_ = cmd.MarkFlagRequired("incident-id")
	_ = cmd.MarkFlagRequired("observation")

	return cmd
}

// isInvariantBreach reports whether err itself is an
// *autonomy.InvariantBreachError, which is how RunStep returns one. It
// does not unwrap wrapped errors the way errors.As would.
func isInvariantBreach(err error, target **autonomy.InvariantBreachError) bool {
	breach, ok := err.(*autonomy.InvariantBreachError)
	if !ok {
		return false
	}
	*target = breach
	return true
}

func newDistillCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distill",
		Short: "Run the daily knowledge distillation pass over episodic memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, *configDir)
			if err != nil {
				return err
			}
			rootDir := cfg.Storage.RootDir
			if rootDir == "" {
				rootDir = "./data"
			}

			episodicStore, err := episodic.Open(filepath.Join(rootDir, "episodic"))
			if err != nil {
				return fmt.Errorf("opening episodic store: %w", err)
			}

			semanticStore, err := semantic.Open(filepath.Join(rootDir, "semantic"))
			if err != nil {
				return fmt.Errorf("opening semantic store: %w", err)
			}

			d := distiller.New(episodicStore, semanticStore)
			summary, err := d.DistillDaily()
			if err != nil {
				return fmt.Errorf("distilling: %w", err)
			}

			slog.Info("distillation complete",
				"incidents_scanned", summary.IncidentsScanned,
				"facts_emitted", summary.FactsEmitted,
			)
			return nil
		},
	}
	return cmd
}

func newVerifyLedgerCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-ledger",
		Short: "Verify the Trust Ledger's hash chain is unbroken",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, *configDir)
			if err != nil {
				return err
			}
			rootDir := cfg.Storage.RootDir
			if rootDir == "" {
				rootDir = "./data"
			}

			entries, err := ledger.ReadAll(filepath.Join(rootDir, "ledger.jsonl"))
			if err != nil {
				return fmt.Errorf("reading ledger: %w", err)
			}

			valid, brokenAt := ledger.VerifyChain(entries)
			if !valid {
				slog.Error("ledger chain is broken", "entry_index", brokenAt, "total_entries", len(entries))
				os.Exit(exitInternalError)
			}
			slog.Info("ledger chain verified", "total_entries", len(entries))
			return nil
		},
	}
	return cmd
}

func newResetKillSwitchCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-kill-switch",
		Short: "Operator escape hatch: clear the kill switch (§3: otherwise monotonic for the process lifetime)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, *configDir)
			if err != nil {
				return err
			}
			rootDir := cfg.Storage.RootDir
			if rootDir == "" {
				rootDir = "./data"
			}

			kill := buildKillSwitch(ctx, cfg)
			defer kill.Close()
			kill.Reset()

			ledgerStore, err := ledger.Open(filepath.Join(rootDir, "ledger.jsonl"))
			if err != nil {
				return fmt.Errorf("opening ledger: %w", err)
			}
			defer ledgerStore.Close()
			if _, err := ledgerStore.Append(ledger.EntryKillSwitch, "operator", "reset", "kill_switch", map[string]any{"reset_at": time.Now()}); err != nil {
				return fmt.Errorf("recording kill switch reset: %w", err)
			}

			slog.Warn("kill switch reset by operator")
			return nil
		},
	}
	return cmd
}
