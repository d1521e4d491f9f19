package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rarehotdog/pjt.mayhem/internal/format"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/scheduler"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const (
	sourceCLI    = "cli"
	batchTimeout = 5 * time.Minute
)

func init() {
	rootCmd.AddCommand(reminderCmd, opsCmd)
	reminderCmd.AddCommand(reminderRunCmd)
	opsCmd.AddCommand(opsRunCmd, opsListCmd)

	reminderRunCmd.Flags().String("kind", "", "morning_plan or evening_review (default: by local hour)")
	reminderRunCmd.Flags().String("bot", string(persona.Tyler), "persona sending the reminder")
	opsRunCmd.Flags().String("mode", scheduler.ModeCloud, "cloud or local_queue")
	opsRunCmd.Flags().Int64("chat", 0, "target chat id (default: the group chat)")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg := loadConfig()
	setupLogging(cfg)
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()
	return fn(ctx, a)
}

var reminderCmd = &cobra.Command{
	Use:   "reminder",
	Short: "Reminder batches",
}

var reminderRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Send one reminder batch now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawKind, _ := cmd.Flags().GetString("kind")
		rawBot, _ := cmd.Flags().GetString("bot")

		kind, ok := types.ParseReminderKind(rawKind)
		if rawKind != "" && !ok {
			return fmt.Errorf("unknown reminder kind: %s", rawKind)
		}
		id, ok := persona.Canonical(rawBot)
		if !ok {
			return fmt.Errorf("unknown bot: %s", rawBot)
		}
		return withApp(func(ctx context.Context, a *app) error {
			res, err := a.batches.RunReminders(ctx, scheduler.ReminderOptions{Persona: id, Kind: kind, Source: sourceCLI})
			if err != nil {
				return fmt.Errorf("reminder batch: %w", err)
			}
			return printJSON(res)
		})
	},
}

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Ops flows",
}

var opsRunCmd = &cobra.Command{
	Use:   "run <flow>",
	Short: "Run one ops flow now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		chat, _ := cmd.Flags().GetInt64("chat")
		if _, ok := format.LookupFlow(args[0]); !ok {
			return fmt.Errorf("unknown ops flow: %s", args[0])
		}
		return withApp(func(ctx context.Context, a *app) error {
			res, err := a.batches.RunOpsFlow(ctx, scheduler.OpsOptions{
				Flow:   args[0],
				ChatID: chat,
				Mode:   mode,
				Source: sourceCLI,
			})
			if err != nil {
				return fmt.Errorf("ops flow %s: %w", args[0], err)
			}
			return printJSON(res)
		})
	},
}

var opsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the ops flow catalogue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FLOW\tOWNER\tCADENCE\tTITLE")
		for _, f := range format.Flows() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Owner, f.Cadence, f.Title)
		}
		return w.Flush()
	},
}
