package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trackline/internal/app"
	"trackline/internal/authority"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/repo"
	"trackline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Trackline CLI",
	Long: `Trackline computes proof-backed execution status for delivery programs.
- Workstream: a stream of related units; its status rolls up from them.
- Unit: one deliverable with a deadline and a proof requirement (count + types).
- Proof: submitted evidence; only approved, valid, non-superseded proofs count.
- Status: red/green/blocked, derived, never edited directly.
- Escalation: alert levels 1-3 raised as the deadline window elapses, or manually.
- Authority tiers: viewer < contributor < lead < owner < admin gate decisions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("TRACKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-role", "admin", "actor authority tier")
	rootCmd.PersistentFlags().String("program", "", "program id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
	_ = viper.BindPFlag("program", rootCmd.PersistentFlags().Lookup("program"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(workstreamCmd())
	rootCmd.AddCommand(unitCmd())
	rootCmd.AddCommand(proofCmd())
	rootCmd.AddCommand(blockCmd())
	rootCmd.AddCommand(unblockCmd())
	rootCmd.AddCommand(escalateCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path, err := app.WriteDefaultConfig(workspace, viper.GetString("program"))
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("initialized workspace: %s (db %s)\n", path, db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func workstreamCmd() *cobra.Command {
	ws := &cobra.Command{Use: "workstream", Short: "Manage workstreams"}
	ws.AddCommand(workstreamCreateCmd())
	ws.AddCommand(workstreamListCmd())
	ws.AddCommand(workstreamStatusCmd())
	ws.AddCommand(workstreamArchiveCmd())
	return ws
}

func workstreamCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create workstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkstream(ctx, id, name, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workstream id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "workstream name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workstreamListCmd() *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workstreams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkstreams(ctx, "", includeArchived)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Archived", "Created"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.Archived, w.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived workstreams")
	return cmd
}

func workstreamStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <workstream-id>",
		Short: "Aggregated workstream status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, units, err := e.WorkstreamStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"status": st, "units": units})
				}
				fmt.Printf("workstream %s: %s\n", args[0], st)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Level", "Deadline"})
				for _, u := range units {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Status, u.EscalationLevel, u.Deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workstreamArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <workstream-id>",
		Short: "Archive workstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ArchiveWorkstream(ctx, args[0], actorID())
			})
		},
	}
	return cmd
}

func unitCmd() *cobra.Command {
	unit := &cobra.Command{Use: "unit", Short: "Manage units"}
	unit.AddCommand(unitCreateCmd())
	unit.AddCommand(unitListCmd())
	unit.AddCommand(unitShowCmd())
	unit.AddCommand(unitConfirmCmd())
	unit.AddCommand(unitArchiveCmd())
	return unit
}

func unitCreateCmd() *cobra.Command {
	var opts engine.UnitCreateOptions
	var thresholds []int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.CustomThresholds = thresholds
				opts.ActorID = actorID()
				opts.Role = actorRole()
				u, err := e.CreateUnit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "unit id (generated when empty)")
	cmd.Flags().StringVar(&opts.WorkstreamID, "workstream", "", "workstream id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "unit name")
	cmd.Flags().IntVar(&opts.RequiredProofCount, "require-count", 1, "required proof count")
	cmd.Flags().StringArrayVar(&opts.RequiredProofTypes, "require-type", []string{}, "required proof type (repeatable)")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().StringVar(&opts.AlertProfile, "profile", "standard", "alert profile (standard, critical, custom, or a named profile)")
	cmd.Flags().IntSliceVar(&thresholds, "threshold", nil, "custom threshold percentages")
	cmd.Flags().BoolVar(&opts.HighCriticality, "high-criticality", false, "owner tier required for approvals")
	_ = cmd.MarkFlagRequired("workstream")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func unitListCmd() *cobra.Command {
	var f repo.UnitFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				units, err := r.ListUnits(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(units)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Level", "Confirmed", "Deadline"})
				for _, u := range units {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Status, u.EscalationLevel, u.Confirmed, u.Deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkstreamID, "workstream", "", "workstream filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (red, green, blocked)")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived units")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func unitShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <unit-id>",
		Short: "Show unit with its proof ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUnit(ctx, args[0])
				if err != nil {
					return err
				}
				proofs, err := r.ListUnitProofs(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"unit": u, "proofs": proofs})
			})
		},
	}
	return cmd
}

func unitConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <unit-id>",
		Short: "Confirm unit scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.ConfirmUnit(ctx, args[0], actorID(), actorRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func unitArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <unit-id>",
		Short: "Archive unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.ArchiveUnit(ctx, args[0], actorID(), actorRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func proofCmd() *cobra.Command {
	proof := &cobra.Command{Use: "proof", Short: "Manage proofs"}
	proof.AddCommand(proofSubmitCmd())
	proof.AddCommand(proofApproveCmd())
	proof.AddCommand(proofRejectCmd())
	return proof
}

func proofSubmitCmd() *cobra.Command {
	var unitID, proofType string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit proof for a unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SubmitProof(ctx, unitID, proofType, actorID(), actorRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&unitID, "unit", "", "unit id")
	cmd.Flags().StringVar(&proofType, "type", "", "proof type (e.g. photo, document)")
	_ = cmd.MarkFlagRequired("unit")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func proofApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <proof-id>",
		Short: "Approve a pending proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decideProof(cmd.Context(), args[0], true, "")
		},
	}
	return cmd
}

func proofRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <proof-id>",
		Short: "Reject a pending proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decideProof(cmd.Context(), args[0], false, reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func decideProof(ctx context.Context, proofID string, approve bool, reason string) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		p, u, err := e.DecideProof(ctx, engine.ProofDecideOptions{
			ProofID: proofID,
			ActorID: actorID(),
			Role:    actorRole(),
			Approve: approve,
			Reason:  reason,
		})
		if err != nil {
			return err
		}
		return printJSONOrTable(map[string]any{"proof": p, "unit": u})
	})
}

func blockCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <unit-id>",
		Short: "Block a unit (or propose a block below lead tier)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Block(ctx, args[0], actorID(), actorRole(), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the unit is blocked")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func unblockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unblock <unit-id>",
		Short: "Unblock a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Unblock(ctx, args[0], actorID(), actorRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func escalateCmd() *cobra.Command {
	var level int
	var reason string
	var markBlocked bool
	cmd := &cobra.Command{
		Use:   "escalate <unit-id>",
		Short: "Manually escalate a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, u, err := e.Escalate(ctx, engine.EscalateOptions{
					UnitID:      args[0],
					ActorID:     actorID(),
					Role:        actorRole(),
					Level:       level,
					Reason:      reason,
					MarkBlocked: markBlocked,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"escalation": esc, "unit": u})
			})
		},
	}
	cmd.Flags().IntVar(&level, "level", 1, "alert level (1-3)")
	cmd.Flags().StringVar(&reason, "reason", "", "escalation reason")
	cmd.Flags().BoolVar(&markBlocked, "mark-blocked", false, "also request blocking the unit")
	return cmd
}

func tickCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run escalation evaluation (once, or as a daemon with --every)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				interval := every
				if interval == 0 && e.Config != nil && e.Config.Escalation.TickInterval != "" {
					if d, err := time.ParseDuration(e.Config.Escalation.TickInterval); err == nil {
						interval = d
					}
				}
				run := func() error {
					raised, err := e.EvaluateAllEligible(ctx, time.Now())
					if err != nil {
						return err
					}
					return printJSONOrTable(map[string]any{"raised": raised})
				}
				if !cmd.Flags().Changed("every") {
					return run()
				}
				if interval <= 0 {
					interval = 5 * time.Minute
				}
				e.Logger.Info().Dur("interval", interval).Msg("tick daemon started")
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if err := run(); err != nil {
						e.Logger.Error().Err(err).Msg("tick failed")
					}
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "run continuously at this interval (defaults to config tick_interval)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit trail"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, unitID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail status events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestStatusEvents(ctx, n, 0, unitID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&unitID, "unit", "", "unit id filter")
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage actors"}
	actor.AddCommand(actorSetRoleCmd())
	actor.AddCommand(actorListCmd())
	return actor
}

func actorSetRoleCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "set-role",
		Short: "Set an actor's authority tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !authority.Known(authority.Role(role)) {
				return fmt.Errorf("unknown role %q", role)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.EnsureActor(ctx, target, role); err != nil {
					return err
				}
				if err := r.SetActorRole(ctx, target, role); err != nil {
					return err
				}
				a, err := r.GetActor(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role (viewer, contributor, lead, owner, admin)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				actors, err := r.ListActors(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(actors)
			})
		},
	}
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Manage API keys"}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysDeleteCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var target, name, key string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an API key (stored hashed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				k := domain.APIKey{
					ID:      newKeyID(),
					ActorID: target,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				return printJSONOrTable(k)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&key, "key", "", "key material (only the hash is stored)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func keysListCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "filter by actor id")
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace, viper.GetString("program"))
			if err != nil {
				return err
			}
			logger := newLogger()
			e := engine.New(conn, cfg, logger)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("TRACKLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyHeader,
				Logger:                 logger,
			}
			if authCfg.JWTSecret == "" && !allowLegacyHeader {
				return fmt.Errorf("TRACKLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving Trackline API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func actorID() string {
	return viper.GetString("actor-id")
}

func actorRole() authority.Role {
	r := authority.Role(viper.GetString("actor-role"))
	if !authority.Known(r) {
		return authority.RoleViewer
	}
	return r
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace, viper.GetString("program"))
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, newLogger())
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newKeyID() string {
	return fmt.Sprintf("key-%d", time.Now().UnixNano())
}
