package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/billing-api/config"
	"github.com/jwalitptl/billing-api/internal/app"
	"github.com/jwalitptl/billing-api/internal/repository/sqlstore"
	"github.com/jwalitptl/billing-api/pkg/auth"
	"github.com/jwalitptl/billing-api/pkg/logger"
	"github.com/jwalitptl/billing-api/pkg/messaging/redis"
	"github.com/jwalitptl/billing-api/pkg/metrics"
	"github.com/jwalitptl/billing-api/pkg/worker"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "billingctl",
		Short:        "Operator tooling for the billing ledger",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yml")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(duesCmd())
	rootCmd.AddCommand(stockCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(eventsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// open loads config and builds the application. Commands that touch the
// ledger need a database; the memory store would start empty.
func open(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "memory" {
		return nil, fmt.Errorf("database.driver is memory; point billingctl at postgres or sqlite")
	}
	cfg.Database.MigrateOnStart = false

	l := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Output:  os.Stderr,
		Console: true,
	})
	return app.New(ctx, cfg, l)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := sqlstore.Migrate(cmd.Context(), a.DB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", a.Config.Database.Driver)
			return nil
		},
	}
}

func duesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dues",
		Short: "Print a patient's outstanding charges as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("patient")
			patientID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid --patient: %w", err)
			}

			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			dues, err := a.Dues.ResolveDues(cmd.Context(), patientID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), dues)
		},
	}
	cmd.Flags().String("patient", "", "Patient ID")
	cmd.MarkFlagRequired("patient")
	return cmd
}

func stockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Inspect pharmacy stock",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List inventory items with usable and on-hand quantities",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.Stock.ListItems(cmd.Context())
			if err != nil {
				return err
			}

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tUNIT PRICE\tAVAILABLE\tON HAND\tBATCHES")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
					item.Name, item.UnitPrice.StringFixed(2), item.Available(now), item.OnHand(), len(item.Batches))
			}
			return w.Flush()
		},
	})

	expiring := &cobra.Command{
		Use:   "expiring",
		Short: "List non-empty batches expiring within --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")

			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			batches, err := a.Stock.Expiring(cmd.Context(), days)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBATCH\tQUANTITY\tEXPIRES")
			for _, b := range batches {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", b.ItemName, b.BatchNumber, b.Quantity, b.ExpiryDate.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
	expiring.Flags().Int("days", 30, "Look-ahead window in days")
	cmd.AddCommand(expiring)

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a staff token signed with auth.secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			staff, _ := cmd.Flags().GetString("staff")
			name, _ := cmd.Flags().GetString("name")
			role, _ := cmd.Flags().GetString("role")

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth.secret is not configured")
			}

			tokens := auth.NewJWTService(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
			token, err := tokens.GenerateToken(staff, name, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("staff", "", "Staff ID recorded on invoices and audit logs")
	cmd.Flags().String("name", "", "Staff display name")
	cmd.Flags().String("role", "billing", "Staff role")
	cmd.MarkFlagRequired("staff")
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage the billing event outbox",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Relay one batch of due events to redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			m := metrics.New("billingctl")
			zl := a.Logger.Zerolog()
			broker, err := redis.NewRedisBroker(a.Config.Redis.ToBrokerConfig(), &zl, m)
			if err != nil {
				return err
			}
			defer broker.Close()

			processor := worker.NewOutboxProcessor(a.Ledger.Outbox, broker, a.Config.Outbox.ToWorkerConfig(), a.Logger, m)
			published, err := processor.ProcessOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %d event(s)\n", published)
			return nil
		},
	})

	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
