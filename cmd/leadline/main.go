package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/app"
	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/logging"
	"leadline/internal/metrics"
	"leadline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "leadline",
	Short: "Leadline CLI",
	Long: `Leadline scores sales leads by temperature and tracks them through the pipeline.
- Temperature: how engaged a lead is, moved by activities and manual adjustments, clamped to the policy range.
- Cooling: leads left idle past their stage threshold lose temperature every day ('leadline sweep').
- Stages: lead -> qualified -> negotiation -> closing, then won or lost. Won and lost are final.
- Probability: stage base plus a temperature bonus, scaled by deal type.
- Policy: impacts, cooling rules and probabilities live in the database; import YAML with 'leadline policy import'.
- Event log: every change is recorded; view it with 'leadline log tail'.`,
	SilenceUsage: true,
}

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()
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
	viper.SetEnvPrefix("LEADLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "error: read config:", err)
			os.Exit(1)
		}
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML/TOML config file with flag values and webhooks")
	flags.StringP("workspace", "w", ".", "workspace directory for the sqlite database")
	flags.String("driver", string(db.SQLite), "database driver (sqlite|postgres)")
	flags.String("dsn", "", "database DSN; required for postgres")
	flags.String("policy", "", "policy YAML overriding the stored policy for this run")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"config", "workspace", "driver", "dsn", "policy", "actor-id", "log-level", "json"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func newLogger() logging.Logger {
	return logging.New(viper.GetString("log-level"))
}

func runtimeOptions(log logging.Logger, m *metrics.Metrics) app.Options {
	return app.Options{
		Driver:     db.Driver(viper.GetString("driver")),
		Workspace:  viper.GetString("workspace"),
		DSN:        viper.GetString("dsn"),
		PolicyFile: viper.GetString("policy"),
		Log:        log,
		Metrics:    m,
	}
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, runtimeOptions(newLogger(), nil))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and import the scoring policy",
		Long:  "The policy holds activity impacts, cooling rules, stage probabilities and deal-type factors. It is stored in the database; the default is seeded on first use.",
	}
	cmd.AddCommand(policyShowCmd())
	cmd.AddCommand(policyValidateCmd())
	cmd.AddCommand(policyImportCmd())
	cmd.AddCommand(policyDefaultCmd())
	return cmd
}

func policyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if viper.GetBool("json") {
					return printJSON(rt.Policy)
				}
				out, err := rt.Policy.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func policyValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a policy file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.FromFile(filePath)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("policy OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to policy YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func policyImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a policy YAML into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.Repo.UpsertPolicy(ctx, p); err != nil {
					return err
				}
				fmt.Println("policy imported")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to policy YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func policyDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Print the default policy YAML",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(config.GenerateDefault())
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if f.EntityID != "" {
					l, err := rt.Engine.GetLead(ctx, f.EntityID)
					if err == nil {
						f.EntityID = l.ID
					}
				}
				items, err := rt.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printEvents(items)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityID, "lead", "", "lead id or number")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrLead(l domain.Lead) error {
	if viper.GetBool("json") {
		return printJSON(l)
	}
	printLead(l)
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
