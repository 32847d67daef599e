package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var extractRefresh bool

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Derive list items from library documents",
}

var extractSourceCmd = &cobra.Command{
	Use:   "source <source-id>",
	Short: "Extract every file of a list source's library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		run := env.Extractor.ExtractSource
		if extractRefresh {
			run = env.Extractor.RefreshSource
		}
		res, err := run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		zap.L().Info("extraction complete",
			zap.String("source_id", args[0]),
			zap.Int("files", res.Files),
			zap.Int("items_created", res.ItemsCreated),
			zap.Int("failures", len(res.Failures)),
		)
		return writeResult(cmd.OutOrStdout(), res)
	},
}

var extractFileCmd = &cobra.Command{
	Use:   "file <source-id> <file-id>",
	Short: "Extract one file for one list source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Extractor.ExtractFile(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), res)
	},
}

var extractProcessedCmd = &cobra.Command{
	Use:   "processed <file-id> <library-id>",
	Short: "Extract a newly processed file for every source of its library",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Extractor.ExtractProcessedFile(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), res)
	},
}

// writeResult prints v as indented JSON.
func writeResult(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	extractSourceCmd.Flags().BoolVar(&extractRefresh, "refresh", false, "delete the source's items and extract again")
	extractCmd.AddCommand(extractSourceCmd, extractFileCmd, extractProcessedCmd)
	rootCmd.AddCommand(extractCmd)
}
