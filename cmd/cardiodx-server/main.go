package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/cardiodx/cardiodx/internal/config"
	"github.com/cardiodx/cardiodx/internal/domain/mlmodel"
	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/blobstore"
	"github.com/cardiodx/cardiodx/internal/platform/cache"
	"github.com/cardiodx/cardiodx/internal/platform/db"
	"github.com/cardiodx/cardiodx/internal/platform/logging"
	"github.com/cardiodx/cardiodx/internal/platform/notification"
	"github.com/cardiodx/cardiodx/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cardiodx-server",
		Short: "CardioDx clinical decision support API server",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(clinicCmd())
	root.AddCommand(seedCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the embedded migrations, or dir when given.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("main"), "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (embedded set when empty)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.SchemaName("main"), "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (embedded set when empty)")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "WARNING: migrate down is not supported by the built-in runner.")
			fmt.Fprintln(cmd.OutOrStdout(), "Restore from a backup or drop the clinic schema and migrate up again.")
			return nil
		},
	})

	return cmd
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating clinic schema: %s\n", db.SchemaName(name))
			if err := db.CreateClinicSchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Clinic created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a model catalog into a clinic",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			clinic, _ := cmd.Flags().GetString("clinic")

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer f.Close()
			cat, err := mlmodel.ParseCatalog(f)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}

			logger, closer := logging.New(logging.Options{Level: cfg.LogLevel, Dev: cfg.IsDev(), Service: "cardiodx-seed", Version: version})
			defer closer.Close()

			ctx, release, err := db.WithClinicConn(ctx, pool, clinic)
			if err != nil {
				return err
			}
			defer release()
			ctx = auth.WithPrincipal(ctx, auth.Principal{UserID: "seed", Name: "Catalog seed", Roles: []string{auth.RoleAdmin}})

			mail := notification.NewDispatcher(notification.NewLogMailer(logger), nil, logger, 8)
			defer func() {
				drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = mail.Close(drainCtx)
			}()

			blobs := blobstore.NewInMemoryBlobStore(cfg.MaxUploadBytes(), cfg.PublicURL+"/files")
			app := newServices(pool, cfg, logger, cache.NewMemory(), blobs, mail, nil)
			res, err := app.models.Seed(ctx, cat)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded clinic %s: %d created, %d skipped, %d activated.\n",
				clinic, res.Created, res.Skipped, res.Activated)
			return nil
		},
	}
	cmd.Flags().String("file", "catalog.yaml", "Path to the YAML model catalog")
	cmd.Flags().String("clinic", "", "Clinic identifier (DEFAULT_CLINIC when empty)")
	return cmd
}
