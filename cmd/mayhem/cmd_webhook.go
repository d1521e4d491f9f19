package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
)

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(webhookSetCmd, webhookDeleteCmd, webhookInfoCmd)
	webhookCmd.PersistentFlags().String("bot", "", "only this persona (default: every persona with a token)")
	webhookSetCmd.Flags().String("url", "", "public base URL (default: http.public_url)")
	webhookDeleteCmd.Flags().Bool("drop-pending", false, "drop updates Telegram still holds")
}

// webhookTargets resolves --bot, or every persona with a configured token.
func webhookTargets(cmd *cobra.Command) ([]persona.ID, error) {
	raw, _ := cmd.Flags().GetString("bot")
	if raw != "" {
		id, ok := persona.Canonical(raw)
		if !ok {
			return nil, fmt.Errorf("unknown bot: %s", raw)
		}
		return []persona.ID{id}, nil
	}
	cfg := loadConfig()
	var ids []persona.ID
	for _, id := range persona.All() {
		if cfg.Bot(id).Token != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no bot tokens configured")
	}
	return ids, nil
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage Telegram webhooks",
}

var webhookSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Register each persona's webhook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := webhookTargets(cmd)
		if err != nil {
			return err
		}
		base, _ := cmd.Flags().GetString("url")
		cfg := loadConfig()
		if base == "" {
			base = cfg.HTTP.PublicURL
		}
		if base == "" {
			return fmt.Errorf("no public URL: pass --url or set http.public_url")
		}
		sender := telegram.NewSender(newHolder(cfg))
		var failed int
		for _, id := range ids {
			url := telegram.WebhookURL(base, id)
			if err := sender.SetWebhook(cmd.Context(), id, url); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", id, err)
				failed++
				continue
			}
			fmt.Fprintf(os.Stdout, "%s -> %s\n", id, url)
		}
		if failed > 0 {
			return fmt.Errorf("%d webhooks failed", failed)
		}
		return nil
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove each persona's webhook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := webhookTargets(cmd)
		if err != nil {
			return err
		}
		drop, _ := cmd.Flags().GetBool("drop-pending")
		sender := telegram.NewSender(newHolder(loadConfig()))
		var failed int
		for _, id := range ids {
			if err := sender.DeleteWebhook(cmd.Context(), id, drop); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", id, err)
				failed++
				continue
			}
			fmt.Fprintf(os.Stdout, "%s webhook removed\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d webhooks failed", failed)
		}
		return nil
	},
}

var webhookInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show Telegram's webhook status per persona",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := webhookTargets(cmd)
		if err != nil {
			return err
		}
		sender := telegram.NewSender(newHolder(loadConfig()))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BOT\tURL\tPENDING\tLAST ERROR")
		for _, id := range ids {
			info, err := sender.WebhookInfo(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(w, "%s\t-\t-\t%v\n", id, err)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", id, info.URL, info.PendingUpdateCount, info.LastErrorMessage)
		}
		return w.Flush()
	},
}
