package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/list-enricher/internal/enrichment"
)

var (
	enrichItems       []string
	enrichPriority    int
	enrichOnlyMissing bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Queue, stop and clear computed field values",
}

var enrichRequestCmd = &cobra.Command{
	Use:   "request <list-id> <field-id>",
	Short: "Queue a computed field for the list's items",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Queue.Request(cmd.Context(), enrichment.RequestInput{
			ListID:      args[0],
			FieldID:     args[1],
			ItemIDs:     enrichItems,
			Priority:    enrichPriority,
			OnlyMissing: enrichOnlyMissing,
		})
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), map[string]int{"queued": n})
	},
}

var enrichStopCmd = &cobra.Command{
	Use:   "stop <list-id> <field-id>",
	Short: "Remove pending entries of a field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Queue.Stop(cmd.Context(), args[0], args[1], enrichItems)
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), map[string]int64{"stopped": n})
	},
}

var enrichClearCmd = &cobra.Command{
	Use:   "clear <list-id> <field-id>",
	Short: "Stop a field and delete its cached values",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Queue.Clear(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), map[string]int64{"cleared": n})
	},
}

func init() {
	enrichRequestCmd.Flags().StringSliceVar(&enrichItems, "items", nil, "item ids (default all items of the list)")
	enrichRequestCmd.Flags().IntVar(&enrichPriority, "priority", 0, "queue priority, higher runs first")
	enrichRequestCmd.Flags().BoolVar(&enrichOnlyMissing, "only-missing", false, "only items without a usable value")
	enrichStopCmd.Flags().StringSliceVar(&enrichItems, "items", nil, "item ids (default every pending entry of the field)")
	enrichCmd.AddCommand(enrichRequestCmd, enrichStopCmd, enrichClearCmd)
	rootCmd.AddCommand(enrichCmd)
}
