package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/app"
	"leadline/internal/engine"
	"leadline/internal/jobs"
	"leadline/internal/lock"
	"leadline/internal/logging"
	"leadline/internal/metrics"
	"leadline/internal/report"
	"leadline/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the API under --base-path. Without LEADLINE_JWT_SECRET the X-Actor-Id header identifies the caller.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(cmd, "addr", "base-path", "cors-origins", "jwt-secret", "sweep-schedule", "redis-url", "webhook-interval")
			ctx := cmd.Context()
			log := newLogger()
			m := metrics.New()
			rt, err := app.Open(ctx, runtimeOptions(log, m))
			if err != nil {
				return err
			}
			defer rt.Close()

			secret := viper.GetString("jwt-secret")
			basePath := viper.GetString("base-path")
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: secret == "",
				},
				CORSOrigins: viper.GetStringSlice("cors-origins"),
				Metrics:     m,
				Log:         log,
			})
			if err != nil {
				return err
			}

			var hooks []server.WebhookConfig
			if err := viper.UnmarshalKey("webhooks", &hooks); err != nil {
				return fmt.Errorf("webhooks config: %w", err)
			}
			server.StartWebhooks(ctx, rt.Engine.Repo, hooks, viper.GetDuration("webhook-interval"), log)

			if schedule := viper.GetString("sweep-schedule"); schedule != "" {
				job, err := newCoolingJob(ctx, rt.Engine, log, schedule)
				if err != nil {
					return err
				}
				if err := job.Start(ctx); err != nil {
					return err
				}
				defer job.Stop()
			}

			addr := viper.GetString("addr")
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.Info("serving leadline api", "addr", addr, "base_path", basePath, "jwt", secret != "", "webhooks", len(hooks))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().String("base-path", "/v0", "API base path")
	cmd.Flags().StringSlice("cors-origins", nil, "allowed CORS origins")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().String("sweep-schedule", "", "also run the cooling sweep on this cron schedule")
	cmd.Flags().String("redis-url", "", "redis URL for the sweep lock")
	cmd.Flags().Duration("webhook-interval", 2*time.Second, "webhook poll interval")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Cool down idle leads",
		Long:  "Leads idle past their stage threshold lose temperature for each day over it. Leads without activity are left alone.",
	}
	cmd.PersistentFlags().Int("concurrency", 4, "leads processed in parallel")
	cmd.PersistentFlags().Float64("rate", 0, "max lead updates per second (0 = unlimited)")
	cmd.PersistentFlags().String("redis-url", "", "redis URL for the sweep lock")
	cmd.PersistentFlags().Duration("timeout", 10*time.Minute, "max duration of one sweep")
	cmd.AddCommand(sweepRunCmd())
	cmd.AddCommand(sweepScheduleCmd())
	return cmd
}

func sweepRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindSweepFlags(cmd)
			ctx := cmd.Context()
			log := newLogger()
			rt, err := app.Open(ctx, runtimeOptions(log, nil))
			if err != nil {
				return err
			}
			defer rt.Close()
			job, err := newCoolingJob(ctx, rt.Engine, log, "")
			if err != nil {
				return err
			}
			rep, ran, err := job.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !ran {
				fmt.Println("sweep already running elsewhere; skipped")
				return nil
			}
			if viper.GetBool("json") {
				return printJSON(rep)
			}
			printSweep(rep)
			return nil
		},
	}
}

func sweepScheduleCmd() *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the sweep on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindSweepFlags(cmd)
			ctx := cmd.Context()
			log := newLogger()
			rt, err := app.Open(ctx, runtimeOptions(log, nil))
			if err != nil {
				return err
			}
			defer rt.Close()
			job, err := newCoolingJob(ctx, rt.Engine, log, schedule)
			if err != nil {
				return err
			}
			if err := job.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			job.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "cron", jobs.DefaultSchedule, "cron schedule")
	return cmd
}

func bindSweepFlags(cmd *cobra.Command) {
	bindFlags(cmd, "concurrency", "rate", "redis-url", "timeout")
}

// bindFlags binds at run time because several commands share viper keys.
func bindFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
}

func newCoolingJob(ctx context.Context, e engine.Engine, log logging.Logger, schedule string) (*jobs.CoolingJob, error) {
	var locker lock.Locker = lock.Local{}
	if url := viper.GetString("redis-url"); url != "" {
		r, err := lock.NewRedis(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		go func() {
			<-ctx.Done()
			r.Close()
		}()
		locker = r
	}
	return &jobs.CoolingJob{
		Sweeper: e,
		Locker:  locker,
		Log:     log,
		Options: engine.SweepOptions{
			Concurrency:   viper.GetInt("concurrency"),
			RatePerSecond: viper.GetFloat64("rate"),
		},
		Schedule: schedule,
		Timeout:  viper.GetDuration("timeout"),
	}, nil
}

func printSweep(rep engine.SweepReport) {
	fmt.Printf("scanned %d, cooled %d, skipped %d, failed %d in %s\n", rep.Scanned, rep.Cooled, rep.Skipped, len(rep.Failed), rep.Duration)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Lead", "Idle Days", "From", "To", "Result"})
	for _, r := range rep.Results {
		result := "cooled"
		if !r.Cooled {
			result = "skipped: " + r.SkipReason
		}
		tw.AppendRow(table.Row{r.LeadNumber, r.IdleDays, r.From, r.To, result})
	}
	for _, f := range rep.Failed {
		tw.AppendRow(table.Row{f.LeadID, "", "", "", "failed: " + f.Error})
	}
	tw.Render()
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the pipeline as an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				leads, err := rt.Engine.ListLeads(ctx, engine.LeadQuery{})
				if err != nil {
					return err
				}
				summary, err := rt.Engine.PipelineSummary(ctx)
				if err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := report.WritePipeline(f, leads, summary); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("wrote %d leads to %s\n", len(leads), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "pipeline.xlsx", "output file")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(cmd, "jwt-secret")
			token, err := server.IssueToken(viper.GetString("jwt-secret"), actorID(), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("jwt-secret", "", "HS256 secret (defaults to LEADLINE_JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 for no expiry")
	return cmd
}
