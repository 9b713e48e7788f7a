package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bizflow/internal/app"
	"bizflow/internal/automation"
)

func dispatchCmd() *cobra.Command {
	var rawCtx string
	var ruleID int
	cmd := &cobra.Command{
		Use:   "dispatch <trigger>",
		Short: "Dispatch a trigger (or run one rule with --rule)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseContext(rawCtx)
			if err != nil {
				return err
			}
			if ruleID == 0 && len(args) == 0 {
				return fmt.Errorf("trigger argument or --rule required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var reports []automation.ExecutionReport
				if ruleID != 0 {
					rep, err := a.Engine().ExecuteRule(ctx, ruleID, c)
					if err != nil {
						return err
					}
					reports = append(reports, rep)
				} else {
					trig, err := automation.ParseTriggerType(args[0])
					if err != nil {
						return err
					}
					if reports, err = a.Engine().DispatchTrigger(ctx, trig, c); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rule", "Name", "Success", "Actions", "Errors", "Took"})
				for _, r := range reports {
					tw.AppendRow(table.Row{r.RuleID, r.RuleName, r.Success, len(r.Outcomes), strings.Join(r.Errors, "; "), r.Duration.Round(time.Millisecond)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rawCtx, "context", "", `event context as a JSON object, e.g. '{"entity_id": 7}'`)
	cmd.Flags().IntVar(&ruleID, "rule", 0, "execute this rule ID regardless of trigger")
	return cmd
}

func rulesCmd() *cobra.Command {
	rules := &cobra.Command{Use: "rules", Short: "Inspect automation rules"}
	rules.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the compiled rule set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				list, err := a.Rules().Rules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					defs := make([]automation.Definition, 0, len(list))
					for _, r := range list {
						defs = append(defs, r.Definition())
					}
					return printJSON(defs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Trigger", "Active", "Actions"})
				for _, r := range list {
					types := make([]string, 0, len(r.Actions))
					for _, act := range r.Actions {
						types = append(types, act.Type)
					}
					tw.AppendRow(table.Row{r.ID, r.Name, r.Trigger, r.Active, strings.Join(types, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	})
	return rules
}

func slotsCmd() *cobra.Command {
	var date string
	var duration, workStart, workEnd int
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List open meeting start times on a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				day := time.Now().In(a.Location())
				if date != "" {
					d, err := time.ParseInLocation("2006-01-02", date, a.Location())
					if err != nil {
						return fmt.Errorf("--date must be YYYY-MM-DD")
					}
					day = d
				}
				slots, err := a.Checker().FindAvailableSlots(ctx, day, duration, workStart, workEnd)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(slots)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Start", "End"})
				for _, s := range slots {
					tw.AppendRow(table.Row{s.Format("2006-01-02 15:04"), s.Add(time.Duration(duration) * time.Minute).Format("15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to search, YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&duration, "duration", 60, "meeting length in minutes")
	cmd.Flags().IntVar(&workStart, "work-start", 0, "first working hour (default from config)")
	cmd.Flags().IntVar(&workEnd, "work-end", 0, "end of working hours (default from config)")
	return cmd
}

func conflictsCmd() *cobra.Command {
	var start, end string
	var exclude int64
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List calendar events overlapping an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := parseTime(start, a.Location())
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				var e *time.Time
				if end != "" {
					t, err := parseTime(end, a.Location())
					if err != nil {
						return fmt.Errorf("--end: %w", err)
					}
					e = &t
				}
				var ex *int64
				if exclude != 0 {
					ex = &exclude
				}
				events, err := a.Checker().Conflicts(ctx, s, e, ex)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				if len(events) == 0 {
					fmt.Println("no conflicts")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Start", "End", "All day"})
				for _, ev := range events {
					endStr := ""
					if ev.End != nil {
						endStr = ev.End.In(a.Location()).Format("2006-01-02 15:04")
					}
					tw.AppendRow(table.Row{ev.ID, ev.Title, ev.Start.In(a.Location()).Format("2006-01-02 15:04"), endStr, ev.AllDay})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "interval start, RFC 3339 or 'YYYY-MM-DD HH:MM'")
	cmd.Flags().StringVar(&end, "end", "", "interval end (default: the start instant)")
	cmd.Flags().Int64Var(&exclude, "exclude", 0, "event ID to ignore")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one reminder scan now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Scan(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("checked %d, fired %d, suppressed %d, failed %d, reinjected %d (%s)\n",
					res.Checked, len(res.Fired), res.Suppressed, res.Failed, res.Reinjected, res.Took.Round(time.Millisecond))
				if len(res.Fired) == 0 {
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event", "Entity", "Offset", "Notification"})
				for _, f := range res.Fired {
					tw.AppendRow(table.Row{f.EventType, f.EntityID, f.Offset, f.NotificationID})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func parseTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or 'YYYY-MM-DD HH:MM', got %q", raw)
	}
	return t, nil
}
