package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rarehotdog/pjt.mayhem/internal/config"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd, configListCmd, configGetCmd, configSetCmd, configCheckCmd)
	configListCmd.Flags().Bool("show-secrets", false, "print secrets unmasked")
	configCheckCmd.Flags().String("bot", "", "check one persona only")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the config file",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(cfgPath)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every key with env overrides applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		show, _ := cmd.Flags().GetBool("show-secrets")
		values, err := config.ListValues(loadConfig(), !show)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		for _, k := range slices.Sorted(maps.Keys(values)) {
			fmt.Printf("%s = %v\n", k, values[k])
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one value from the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one value to the config file",
	Long:  "Write one value to the config file. A running daemon picks it up on the next file change.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if err := config.SetValue(cfgPath, key, val); err != nil {
			return err
		}
		if config.IsSecretKey(key) {
			val = config.MaskValue(val)
		}
		fmt.Printf("%s = %s\n", key, val)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report keys each persona still needs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ids := persona.All()
		if bot, _ := cmd.Flags().GetString("bot"); bot != "" {
			id, ok := persona.Canonical(bot)
			if !ok {
				return fmt.Errorf("unknown bot %q", bot)
			}
			ids = []persona.ID{id}
		}

		incomplete := 0
		for _, id := range ids {
			missing := cfg.MissingKeys(id)
			if len(missing) == 0 {
				fmt.Printf("%-18s ok\n", id)
				continue
			}
			incomplete++
			fmt.Printf("%-18s missing %s\n", id, strings.Join(missing, ", "))
		}
		if incomplete > 0 {
			return fmt.Errorf("%d of %d personas not configured", incomplete, len(ids))
		}
		return nil
	},
}
