package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"invoicer/internal/app"
	"invoicer/internal/config"
	"invoicer/internal/domain"
	"invoicer/internal/engine"
	"invoicer/internal/events"
	"invoicer/internal/invoice"
	"invoicer/internal/logger"
	"invoicer/internal/migrate"
	"invoicer/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "invoicer",
	Short: "Invoicer CLI",
	Long: `Invoicer keeps the invoices of the dashboard: create, edit and delete them,
sign users in, and tell the presentation layer when the invoice listing is stale.
- Workspace: the .invoicer directory holding the SQLite database (or a Postgres DSN in invoicer.yml).
- Invoices: customer, amount in dollars (stored as cents), status pending|paid, dated today (UTC).
- Revalidation: every successful mutation marks /dashboard/invoices stale (registry, webhooks, Redis).
- Event log: every mutation is recorded, view with 'invoicer log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("INVOICER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/invoicer.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "cli", "actor recorded in the event log")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(customerCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
}

// loadConfig reads invoicer.yml and applies INVOICER_* environment overrides.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	path := viper.GetString("config")
	if path == "" {
		path = config.Path(workspace)
	}
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Workspace == "" || cfg.Database.Workspace == "." {
		cfg.Database.Workspace = workspace
	}
	overrides := map[string]*string{
		"jwt-secret":      &cfg.Auth.JWTSecret,
		"database-dsn":    &cfg.Database.DSN,
		"database-driver": &cfg.Database.Driver,
		"redis-addr":      &cfg.Notify.RedisAddr,
		"otlp-endpoint":   &cfg.Telemetry.Endpoint,
		"log-level":       &cfg.Log.Level,
	}
	for key, dst := range overrides {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = events.WithActor(ctx, viper.GetString("actor-id"))
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	var addr string
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if cfg.Auth.JWTSecret == "" {
					return fmt.Errorf("INVOICER_JWT_SECRET (or auth.jwt_secret) is required to issue sessions")
				}
				if addr == "" {
					addr = cfg.Server.Addr
				}
				shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
				if err != nil {
					return fmt.Errorf("telemetry: %w", err)
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = shutdownTracing(sctx)
				}()
				if seed {
					if _, err := a.Seed(ctx, cfg.Seed); err != nil {
						return err
					}
				}
				if err := a.FollowRevalidations(ctx); err != nil {
					return err
				}
				handler, err := a.Handler()
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				a.Log.Info("serving invoicer API", "addr", addr, "base_path", cfg.Server.BasePath, "driver", a.Dialect)
				fmt.Printf("Serving Invoicer API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().BoolVar(&seed, "seed", true, "upsert the seed customers and users from config on start")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := migrate.Version(a.DB)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"driver": a.Dialect, "version": v})
			})
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upsert seed customers and users from config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Seed(ctx, a.Config.Seed)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func invoiceCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invoice", Short: "Manage invoices"}
	inv.AddCommand(invoiceListCmd())
	inv.AddCommand(invoiceCreateCmd())
	inv.AddCommand(invoiceUpdateCmd())
	inv.AddCommand(invoiceDeleteCmd())
	return inv
}

func invoiceForm(customerID, amount, status string) url.Values {
	return url.Values{
		invoice.FieldCustomerID: {customerID},
		invoice.FieldAmount:     {amount},
		invoice.FieldStatus:     {status},
	}
}

func addInvoiceFlags(cmd *cobra.Command, customerID, amount, status *string) {
	cmd.Flags().StringVar(customerID, "customer", "", "customer id")
	cmd.Flags().StringVar(amount, "amount", "", "amount in dollars, e.g. 19.99")
	cmd.Flags().StringVar(status, "status", "", domain.StatusPending+"|"+domain.StatusPaid)
}

func invoiceCreateCmd() *cobra.Command {
	var customerID, amount, status string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create invoice",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printOutcome(a.Engine.CreateInvoice(ctx, invoiceForm(customerID, amount, status)))
			})
		},
	}
	addInvoiceFlags(cmd, &customerID, &amount, &status)
	return cmd
}

func invoiceUpdateCmd() *cobra.Command {
	var customerID, amount, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printOutcome(a.Engine.UpdateInvoice(ctx, args[0], invoiceForm(customerID, amount, status)))
			})
		},
	}
	addInvoiceFlags(cmd, &customerID, &amount, &status)
	return cmd
}

func invoiceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printOutcome(a.Engine.DeleteInvoice(ctx, args[0]))
			})
		},
	}
}

func invoiceListCmd() *cobra.Command {
	var query string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rows, err := a.Repo.ListInvoices(ctx, query, limit, offset)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Customer", "Email", "Amount", "Status", "Date"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.ID, r.CustomerName, r.CustomerEmail, formatCents(r.AmountCents), r.Status, r.Date})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "filter on customer, amount, date or status")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func customerCmd() *cobra.Command {
	c := &cobra.Command{Use: "customer", Short: "Customers"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List customers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				customers, err := a.Repo.ListCustomers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(customers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email"})
				for _, cu := range customers {
					tw.AppendRow(table.Row{cu.ID, cu.Name, cu.Email})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Users that can sign in"}
	var email, name, password string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add or reset a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				user, err := a.AddUser(ctx, config.SeedUser{Email: email, Name: name, Password: password})
				if err != nil {
					return err
				}
				return printJSONOrTable(user)
			})
		},
	}
	add.Flags().StringVar(&email, "email", "", "email")
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&password, "password", "", "password (min 6 characters)")
	u.AddCommand(add)
	return u
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every committed invoice mutation, with the actor that performed it.",
	}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Repo.TailEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	log.AddCommand(tail)
	return log
}

// --- helpers ---

// printOutcome prints what a mutation produced. A failed state is printed
// and turned into a non-zero exit.
func printOutcome(out engine.Outcome) error {
	switch o := out.(type) {
	case engine.Redirect:
		return printJSONOrTable(map[string]string{"status": "ok", "redirect": o.Path})
	case engine.StateUpdate:
		if o.Failure == engine.FailureNone {
			return printJSONOrTable(map[string]string{"status": "ok"})
		}
		if err := printJSON(o.State); err != nil {
			return err
		}
		return fmt.Errorf("%s failure: %s", o.Failure, o.State.Message)
	default:
		return fmt.Errorf("unexpected outcome %T", out)
	}
}

func formatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
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
