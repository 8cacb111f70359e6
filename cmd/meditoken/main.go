package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"meditoken/internal/auth"
	"meditoken/internal/clinic"
	"meditoken/internal/config"
	"meditoken/internal/models"
	"meditoken/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "meditoken",
		Short:         "Clinic token queue service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(resetQueueCmd())
	rootCmd.AddCommand(createStaffCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and realtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.memory, "memory", false, "Run on the in-memory store with demo data")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "Apply pending migrations before serving")
	cmd.Flags().StringVar(&opts.adminPassword, "admin-password", "", "Password for the demo admin account in --memory mode")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, cfg config.Config, env *dbEnv) error {
				count, err := postgres.NewMigrator(env.pool).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s).\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, cfg config.Config, env *dbEnv) error {
				statuses, err := postgres.NewMigrator(env.pool).Status(ctx)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
				}
				return w.Flush()
			})
		},
	})
	return cmd
}

func resetQueueCmd() *cobra.Command {
	var clinicID string
	cmd := &cobra.Command{
		Use:   "reset-queue",
		Short: "Delete every token of a clinic; the next token is 1",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinicID = strings.TrimSpace(clinicID)
			if clinicID == "" {
				return fmt.Errorf("--clinic is required")
			}
			return withPool(cmd.Context(), func(ctx context.Context, cfg config.Config, env *dbEnv) error {
				svc := clinic.NewService(env.store, env.store, clinicOptions(cfg, env.logger))
				defer svc.Shutdown()
				if err := svc.ResetQueue(ctx, clinicID); err != nil {
					return err
				}
				fmt.Printf("Queue of clinic %s reset.\n", clinicID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clinicID, "clinic", "", "Clinic id")
	return cmd
}

func createStaffCmd() *cobra.Command {
	var account models.StaffAccount
	var password string
	cmd := &cobra.Command{
		Use:   "create-staff",
		Short: "Create or replace a staff login",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch account.Role {
			case models.RoleAdmin, models.RoleDoctor, models.RoleAssistant:
			default:
				return fmt.Errorf("--role must be admin, doctor or assistant")
			}
			if account.Role != models.RoleAdmin && account.ClinicID == "" {
				return fmt.Errorf("--clinic is required for %s accounts", account.Role)
			}
			if len(password) < 8 {
				return fmt.Errorf("--password must be at least 8 characters")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			account.PasswordHash = hash
			return withPool(cmd.Context(), func(ctx context.Context, cfg config.Config, env *dbEnv) error {
				if err := env.store.SaveStaffAccount(ctx, account); err != nil {
					return err
				}
				fmt.Printf("Staff login %s saved.\n", strings.ToLower(account.Login))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account.Login, "login", "", "Login name")
	cmd.Flags().StringVar(&account.Role, "role", models.RoleAssistant, "admin, doctor or assistant")
	cmd.Flags().StringVar(&account.ClinicID, "clinic", "", "Clinic id; empty for a platform admin")
	cmd.Flags().StringVar(&account.StaffID, "staff-id", "", "Doctor or assistant id the login acts as")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("login")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

type dbEnv struct {
	pool   *pgxpool.Pool
	store  *postgres.Store
	logger zerolog.Logger
}

// withPool loads configuration, connects and hands a postgres store to fn.
func withPool(ctx context.Context, fn func(ctx context.Context, cfg config.Config, env *dbEnv) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(true); err != nil {
		return err
	}
	logger := newLogger(cfg)

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	pool, err := postgres.NewPool(connectCtx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := postgres.NewStore(pool, postgres.Options{Logger: logger})
	defer st.Close()
	return fn(ctx, cfg, &dbEnv{pool: pool, store: st, logger: logger})
}

func newLogger(cfg config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func clinicOptions(cfg config.Config, logger zerolog.Logger) clinic.Options {
	return clinic.Options{
		StoreTimeout:         cfg.StoreTimeout,
		RetryMaxElapsed:      cfg.SyncRetryMaxElapsed,
		LegacyTokenNumbering: cfg.LegacyTokenNumbering,
		RegisterRetries:      cfg.RegisterRetries,
		Logger:               logger.With().Str("component", "clinic").Logger(),
	}
}
