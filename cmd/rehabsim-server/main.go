package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rehabsim/scheduler/internal/config"
	"github.com/rehabsim/scheduler/internal/domain/scheduling"
	"github.com/rehabsim/scheduler/internal/platform/auth"
	"github.com/rehabsim/scheduler/internal/platform/db"
	"github.com/rehabsim/scheduler/internal/platform/lock"
	"github.com/rehabsim/scheduler/internal/platform/metrics"
	"github.com/rehabsim/scheduler/migrations"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rehabsim-server",
		Short:         "Pediatric rehab scheduling simulator API",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(cohortCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(planCmd())
	root.AddCommand(tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// loadConfig reads and validates the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// migrationSource prefers an on-disk directory so migrations can be edited
// without a rebuild.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

// withCohort pins a pooled connection to the cohort's schema and binds it to
// ctx, the way CohortMiddleware does for requests.
func withCohort(ctx context.Context, pool *pgxpool.Pool, cohortID string) (context.Context, func(), error) {
	if !db.ValidCohortID(cohortID) {
		return ctx, nil, fmt.Errorf("invalid cohort identifier: %s", cohortID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", db.CohortSchema(cohortID))); err != nil {
		conn.Release()
		return ctx, nil, fmt.Errorf("select cohort %s: %w", cohortID, err)
	}
	return db.WithConn(ctx, cohortID, conn), conn.Release, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for a cohort schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cohort, _ := cmd.Flags().GetString("cohort")
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("to")
			if target < 0 {
				return fmt.Errorf("--to must not be negative")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if cohort == "" {
				cohort = cfg.DefaultCohort
			}
			schema := db.CohortSchema(cohort)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := db.NewMigrator(pool, migrationSource(dir)).UpTo(ctx, schema, target)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("cohort", "", "Target cohort (defaults to DEFAULT_COHORT)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	upCmd.Flags().Int("to", 0, "Stop after this migration version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cohort, _ := cmd.Flags().GetString("cohort")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if cohort == "" {
				cohort = cfg.DefaultCohort
			}
			schema := db.CohortSchema(cohort)
			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("cohort", "", "Target cohort (defaults to DEFAULT_COHORT)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
	}
	tw.Flush()
}

func cohortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cohort",
		Short: "Manage training cohorts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a cohort schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			seed, _ := cmd.Flags().GetBool("seed")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating cohort schema: %s\n", db.CohortSchema(name))
			if err := db.CreateCohortSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			if seed {
				return runSeed(cmd, cfg, pool, name)
			}
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Cohort identifier (letters, digits, underscore)")
	createCmd.Flags().Bool("seed", false, "Load the sample roster after creating the schema")
	cmd.AddCommand(createCmd)
	return cmd
}

// newSchedulingService wires the Postgres repositories. q is the pool; a
// request or CLI context may carry a cohort connection that takes precedence.
func newSchedulingService(cfg *config.Config, q db.Querier, locker lock.Locker, m *metrics.SchedulingMetrics, logger zerolog.Logger) (*scheduling.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	anchor, _, err := cfg.Anchor()
	if err != nil {
		return nil, err
	}
	repos := scheduling.Repositories{
		Clinicians:   scheduling.NewClinicianRepoPG(q),
		Clients:      scheduling.NewClientRepoPG(q),
		Appointments: scheduling.NewAppointmentRepoPG(q, loc),
		Settings:     scheduling.NewSettingsRepoPG(q),
	}
	return scheduling.NewService(repos, scheduling.PgTx(q), locker, m, logger, scheduling.Options{
		Location: loc,
		Anchor:   anchor,
		Defaults: cfg.Constraints(),
		LockTTL:  cfg.LockTTL,
	}), nil
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the sample clinicians, client queue and booked plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cohort, _ := cmd.Flags().GetString("cohort")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := openPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if cohort == "" {
				cohort = cfg.DefaultCohort
			}
			return runSeed(cmd, cfg, pool, cohort)
		},
	}
	cmd.Flags().String("cohort", "", "Target cohort (defaults to DEFAULT_COHORT)")
	return cmd
}

func runSeed(cmd *cobra.Command, cfg *config.Config, pool *pgxpool.Pool, cohort string) error {
	ctx, release, err := withCohort(cmd.Context(), pool, cohort)
	if err != nil {
		return err
	}
	defer release()

	svc, err := newSchedulingService(cfg, pool, lock.NewLocalLocker(), nil, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	res, err := svc.Seed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded cohort %s: %d clinician(s), %d client(s), %d appointment(s).\n",
		cohort, res.Clinicians, res.Clients, res.Appointments)
	return nil
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Place a care plan for one client against the stored calendar",
		Long: "Runs the placer for --client with --clinician and prints the eight visits.\n" +
			"Nothing is stored unless --book is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cohort, _ := cmd.Flags().GetString("cohort")
			clientID, _ := cmd.Flags().GetString("client")
			clinicianID, _ := cmd.Flags().GetString("clinician")
			startStr, _ := cmd.Flags().GetString("start")
			book, _ := cmd.Flags().GetBool("book")
			if clientID == "" || clinicianID == "" {
				return fmt.Errorf("--client and --clinician are required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			req := scheduling.PlanRequest{ClientID: clientID, ClinicianID: clinicianID}
			if startStr != "" {
				loc, err := cfg.Location()
				if err != nil {
					return err
				}
				start, err := time.ParseInLocation(config.AnchorLayout, startStr, loc)
				if err != nil {
					return fmt.Errorf("--start must be YYYY-MM-DD: %w", err)
				}
				req.Start = &start
			}

			pool, err := openPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if cohort == "" {
				cohort = cfg.DefaultCohort
			}
			ctx, release, err := withCohort(cmd.Context(), pool, cohort)
			if err != nil {
				return err
			}
			defer release()

			svc, err := newSchedulingService(cfg, pool, lock.NewLocalLocker(), nil, newLogger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			var plan []*scheduling.Appointment
			if book {
				plan, err = svc.BookCarePlan(ctx, req)
			} else {
				plan, err = svc.PreviewCarePlan(ctx, req)
			}
			if err != nil {
				return err
			}
			e, err := svc.Engine(ctx)
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan, e.CycleWeek)
			if !book {
				fmt.Fprintln(cmd.OutOrStdout(), "Dry run: nothing was stored. Re-run with --book to save this plan.")
			}
			return nil
		},
	}
	cmd.Flags().String("cohort", "", "Target cohort (defaults to DEFAULT_COHORT)")
	cmd.Flags().String("client", "", "Client ID, e.g. C0001")
	cmd.Flags().String("clinician", "", "Clinician ID, e.g. CLIN01")
	cmd.Flags().String("start", "", "Earliest date for the assessment (YYYY-MM-DD, default tomorrow)")
	cmd.Flags().Bool("book", false, "Store the plan and mark the client scheduled")
	return cmd
}

func printPlan(w io.Writer, plan []*scheduling.Appointment, cycleWeek func(time.Time) int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTYPE\tDATE\tDAY\tCYCLE WEEK\tID")
	for _, a := range plan {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			a.Sequence, a.Type, a.ScheduledDate.Format("2006-01-02"), a.ScheduledDate.Weekday().String()[:3],
			cycleWeek(a.ScheduledDate), a.ID)
	}
	tw.Flush()
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token for local use",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			cohort, _ := cmd.Flags().GetString("cohort")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cohort == "" {
				cohort = cfg.DefaultCohort
			}
			token, err := auth.IssueToken(jwtConfig(cfg), auth.TokenRequest{
				Subject:  subject,
				CohortID: cohort,
				Roles:    normaliseRoles(roles),
				TTL:      ttl,
			}, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Token subject, e.g. a student's login")
	cmd.Flags().StringSlice("role", []string{auth.RoleStudent}, "Role to grant (instructor, student)")
	cmd.Flags().String("cohort", "", "Cohort claim (defaults to DEFAULT_COHORT)")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func normaliseRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
}
