package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/list-enricher/internal/automation"
)

var automationCmd = &cobra.Command{
	Use:   "automation",
	Short: "Trigger, stop and sync automations",
}

var automationTriggerCmd = &cobra.Command{
	Use:   "trigger <automation-id>",
	Short: "Queue a batch over every in-scope item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "automation")
		if err != nil {
			return err
		}
		defer env.Close()

		batch, err := env.Automations.Trigger(cmd.Context(), args[0], automation.TriggerManual)
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), batch)
	},
}

var automationTriggerItemCmd = &cobra.Command{
	Use:   "trigger-item <automation-item-id>",
	Short: "Queue a batch for a single automation item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "automation")
		if err != nil {
			return err
		}
		defer env.Close()

		batch, err := env.Automations.TriggerItem(cmd.Context(), args[0], automation.TriggerManual)
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), batch)
	},
}

var automationStopCmd = &cobra.Command{
	Use:   "stop <automation-id>",
	Short: "Skip the automation's pending items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "automation")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Automations.Stop(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), map[string]int64{"skipped": n})
	},
}

var automationSyncCmd = &cobra.Command{
	Use:   "sync <automation-id>",
	Short: "Create items for new list entries and drop orphaned ones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "automation")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Syncer.Sync(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	automationCmd.AddCommand(automationTriggerCmd, automationTriggerItemCmd, automationStopCmd, automationSyncCmd)
	rootCmd.AddCommand(automationCmd)
}
