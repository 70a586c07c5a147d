package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/app"
	"leadline/internal/domain"
	"leadline/internal/engine"
)

func leadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lead",
		Short: "Manage leads",
		Long:  "Leads are referenced by id or by lead number (e.g. L/25/MAR/00001).",
	}
	cmd.AddCommand(leadCreateCmd())
	cmd.AddCommand(leadListCmd())
	cmd.AddCommand(leadGetCmd())
	cmd.AddCommand(leadActivityCmd())
	cmd.AddCommand(leadTempCmd())
	cmd.AddCommand(leadStageCmd())
	cmd.AddCommand(leadWonCmd())
	cmd.AddCommand(leadLostCmd())
	cmd.AddCommand(leadHistoryCmd())
	return cmd
}

func leadCreateCmd() *cobra.Command {
	var in engine.NewLead
	var dealType string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.DealType = domain.DealType(dealType)
			in.ActorID = actorID()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				l, err := rt.Engine.CreateLead(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrLead(l)
			})
		},
	}
	cmd.Flags().StringVar(&in.CompanyName, "company", "", "company name")
	cmd.Flags().StringVar(&in.ContactName, "contact", "", "contact name")
	cmd.Flags().StringVar(&in.ContactPhone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&in.ContactEmail, "email", "", "contact email")
	cmd.Flags().StringVar(&dealType, "deal-type", string(domain.DealSupply), "supply|apply|supply_apply")
	cmd.Flags().Float64Var(&in.EstimatedValue, "value", 0, "estimated deal value")
	cmd.Flags().StringVar(&in.Source, "source", "", "lead source")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func leadListCmd() *cobra.Command {
	var stages []string
	var status, dealType string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := engine.LeadQuery{
				Status:   domain.TemperatureStatus(status),
				DealType: domain.DealType(dealType),
				Limit:    limit,
			}
			for _, s := range stages {
				q.Stages = append(q.Stages, domain.Stage(s))
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				leads, err := rt.Engine.ListLeads(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "Company", "Stage", "Temp", "Status", "Prob", "Value", "In Stage"})
				for _, l := range leads {
					tw.AppendRow(table.Row{
						l.LeadNumber, l.CompanyName, l.Stage, l.Temperature, l.TemperatureStatus,
						fmt.Sprintf("%d%%", l.Probability), humanize.CommafWithDigits(l.EstimatedValue, 2), since(l.StageEnteredAt),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&stages, "stage", nil, "stage filter (repeatable)")
	cmd.Flags().StringVar(&status, "status", "", "temperature status filter")
	cmd.Flags().StringVar(&dealType, "deal-type", "", "deal type filter")
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func leadGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <lead>",
		Short: "Show a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				l, err := rt.Engine.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrLead(l)
			})
		},
	}
}

func leadActivityCmd() *cobra.Command {
	var in engine.ActivityInput
	cmd := &cobra.Command{
		Use:   "activity <lead>",
		Short: "Log an activity and apply its temperature impact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ActorID = actorID()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				l, err := rt.Engine.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				in.LeadID = l.ID
				res, err := rt.Engine.LogActivity(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("logged %s (impact %+d)\n", res.Activity.Type, res.Activity.TemperatureImpact)
				printLead(res.Lead)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Type, "type", "", "activity type (see 'leadline policy show')")
	cmd.Flags().StringVar(&in.Subject, "subject", "", "subject")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Outcome, "outcome", "", "outcome")
	cmd.Flags().StringVar(&in.NextAction, "next-action", "", "next action")
	cmd.Flags().StringVar(&in.NextActionDate, "next-action-date", "", "next action date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func leadTempCmd() *cobra.Command {
	var activity, reason string
	var adjust int
	cmd := &cobra.Command{
		Use:   "temp <lead>",
		Short: "Adjust temperature manually or by activity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := engine.TemperatureUpdate{ActivityType: activity, Reason: reason, ActorID: actorID()}
			if cmd.Flags().Changed("adjust") {
				u.ManualAdjustment = &adjust
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				l, err := rt.Engine.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				u.LeadID = l.ID
				res, err := rt.Engine.UpdateTemperature(ctx, u)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("temperature %d -> %d (%s)\n", res.Change.FromValue, res.Change.ToValue, res.Change.ToStatus)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&adjust, "adjust", 0, "manual delta, e.g. -10")
	cmd.Flags().StringVar(&activity, "activity", "", "apply this activity type's impact")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the change")
	return cmd
}

func leadStageCmd() *cobra.Command {
	var m engine.StageMove
	var stage string
	cmd := &cobra.Command{
		Use:   "stage <lead>",
		Short: "Move a lead to another open stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m.Stage = domain.Stage(stage)
			m.ActorID = actorID()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				l, err := rt.Engine.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				m.LeadID = l.ID
				moved, err := rt.Engine.MoveStage(ctx, m)
				if err != nil {
					return err
				}
				return printJSONOrLead(moved)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "to", "", "target stage (lead|qualified|negotiation|closing)")
	cmd.Flags().StringVar(&m.SubStage, "sub-stage", "", "sub stage")
	cmd.Flags().StringVar(&m.Note, "note", "", "note for the stage_change activity")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func leadWonCmd() *cobra.Command {
	var in engine.WonInput
	cmd := &cobra.Command{
		Use:   "won <lead>",
		Short: "Close a lead as won",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ActorID = actorID()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				l, err := rt.Engine.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				in.LeadID = l.ID
				won, err := rt.Engine.MarkWon(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrLead(won)
			})
		},
	}
	cmd.Flags().Float64Var(&in.FinalValue, "final-value", 0, "final deal value")
	cmd.Flags().StringVar(&in.PONumber, "po", "", "purchase order number")
	_ = cmd.MarkFlagRequired("final-value")
	return cmd
}

func leadLostCmd() *cobra.Command {
	var in engine.LostInput
	cmd := &cobra.Command{
		Use:   "lost <lead>",
		Short: "Close a lead as lost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ActorID = actorID()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				l, err := rt.Engine.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				in.LeadID = l.ID
				lost, err := rt.Engine.MarkLost(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrLead(lost)
			})
		},
	}
	cmd.Flags().StringVar(&in.Reason, "reason", "", "loss reason")
	cmd.Flags().StringVar(&in.Competitor, "competitor", "", "winning competitor")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func leadHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <lead>",
		Short: "Show the temperature audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.TemperatureHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "To", "Status", "Trigger", "Actor", "Reason"})
				for _, c := range items {
					tw.AppendRow(table.Row{since(c.CreatedAt), c.FromValue, c.ToValue, c.ToStatus, c.TriggerEvent, c.ActorID, c.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func pipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Lead count and value per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				stages, err := rt.Engine.PipelineSummary(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stages)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Leads", "Total", "Weighted"})
				var total, weighted float64
				var count int
				for _, s := range stages {
					tw.AppendRow(table.Row{s.Stage, s.Count, humanize.CommafWithDigits(s.TotalValue, 2), humanize.CommafWithDigits(s.WeightedValue, 2)})
					count += s.Count
					total += s.TotalValue
					weighted += s.WeightedValue
				}
				tw.AppendFooter(table.Row{"total", count, humanize.CommafWithDigits(total, 2), humanize.CommafWithDigits(weighted, 2)})
				tw.Render()
				return nil
			})
		},
	}
}

func printLead(l domain.Lead) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", l.ID},
		{"Number", l.LeadNumber},
		{"Company", l.CompanyName},
		{"Deal type", l.DealType},
		{"Stage", l.Stage},
		{"Temperature", fmt.Sprintf("%d (%s)", l.Temperature, l.TemperatureStatus)},
		{"Probability", fmt.Sprintf("%d%%", l.Probability)},
		{"Value", humanize.CommafWithDigits(l.EstimatedValue, 2)},
		{"In stage since", since(l.StageEnteredAt)},
	})
	if l.Stage == domain.StageWon && l.FinalValue != nil {
		tw.AppendRow(table.Row{"Final value", humanize.CommafWithDigits(*l.FinalValue, 2)})
		tw.AppendRow(table.Row{"After sales", l.AfterSalesStatus})
	}
	if l.Stage == domain.StageLost {
		tw.AppendRow(table.Row{"Lost reason", l.LostReason})
	}
	tw.Render()
}

func printEvents(items []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor", "Payload"})
	for _, e := range items {
		tw.AppendRow(table.Row{e.ID, since(e.TS), e.Type, e.EntityID, e.ActorID, e.Payload})
	}
	tw.Render()
}

// since renders an RFC3339 stamp relative to now; unparsable input is returned as-is.
func since(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}
