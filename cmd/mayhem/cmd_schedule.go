package main

import (
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rarehotdog/pjt.mayhem/internal/format"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/scheduler"
	"github.com/rarehotdog/pjt.mayhem/internal/state"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd, scheduleEnableCmd, scheduleDisableCmd)

	scheduleAddCmd.Flags().String("name", "", "schedule name (required)")
	scheduleAddCmd.Flags().String("cron", "", "cron expression (required)")
	scheduleAddCmd.Flags().String("reminder", "", "reminder kind: morning_plan or evening_review")
	scheduleAddCmd.Flags().String("bot", string(persona.Tyler), "persona sending the reminder")
	scheduleAddCmd.Flags().String("flow", "", "ops flow id")
	scheduleAddCmd.Flags().String("mode", "", "ops dispatch mode: cloud or local_queue")
	_ = scheduleAddCmd.MarkFlagRequired("name")
	_ = scheduleAddCmd.MarkFlagRequired("cron")
}

func openSchedules() *state.ScheduleStore {
	return scheduleStore(loadConfig())
}

// notifyDaemon asks a running daemon to reload its schedules.
func notifyDaemon() {
	if _, err := signalDaemon(syscall.SIGUSR1); err == nil {
		fmt.Println("Daemon schedules reloaded.")
	}
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage reminder and ops schedules",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		expr, _ := cmd.Flags().GetString("cron")
		reminder, _ := cmd.Flags().GetString("reminder")
		bot, _ := cmd.Flags().GetString("bot")
		flow, _ := cmd.Flags().GetString("flow")
		mode, _ := cmd.Flags().GetString("mode")

		if err := scheduler.ValidateExpression(expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		sc := &state.Schedule{Name: name, Schedule: expr, Enabled: true}
		switch {
		case flow != "" && reminder != "":
			return fmt.Errorf("use either --flow or --reminder")
		case flow != "":
			if _, ok := format.LookupFlow(flow); !ok {
				return fmt.Errorf("unknown ops flow: %s", flow)
			}
			if mode != "" && mode != scheduler.ModeCloud && mode != scheduler.ModeLocalQueue {
				return fmt.Errorf("unknown mode: %s", mode)
			}
			sc.Kind, sc.Flow, sc.Mode = state.ScheduleOps, flow, mode
		default:
			if reminder != "" {
				if _, ok := types.ParseReminderKind(reminder); !ok {
					return fmt.Errorf("unknown reminder kind: %s", reminder)
				}
			}
			id, ok := persona.Canonical(bot)
			if !ok {
				return fmt.Errorf("unknown bot: %s", bot)
			}
			sc.Kind, sc.Bot, sc.ReminderKind = state.ScheduleReminder, id, reminder
		}

		if err := openSchedules().Add(sc); err != nil {
			return fmt.Errorf("add schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q added.\n", name)
		notifyDaemon()
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		schedules, err := openSchedules().List()
		if err != nil {
			return fmt.Errorf("list schedules: %w", err)
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules configured. The daemon writes defaults on first start.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tTARGET\tSCHEDULE\tENABLED")
		for _, sc := range schedules {
			target := sc.Flow
			if sc.Kind == state.ScheduleReminder {
				target = string(sc.Bot)
				if sc.ReminderKind != "" {
					target += ":" + sc.ReminderKind
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", sc.Name, sc.Kind, target, sc.Schedule, sc.Enabled)
		}
		return w.Flush()
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openSchedules().Remove(args[0]); err != nil {
			return fmt.Errorf("remove schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q removed.\n", args[0])
		notifyDaemon()
		return nil
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openSchedules().SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q enabled.\n", args[0])
		notifyDaemon()
		return nil
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openSchedules().SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q disabled.\n", args[0])
		notifyDaemon()
		return nil
	},
}
