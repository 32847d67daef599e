package main

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/docstore"
	"github.com/sells-group/list-enricher/internal/model"
)

type libraryFiles interface {
	ListLibraryFiles(ctx context.Context, libraryID string) ([]model.File, error)
}

type fileIndexer interface {
	IndexFile(ctx context.Context, libraryID, fileID, fileName, markdown string) (int, error)
}

// indexSummary reports one library indexing run.
type indexSummary struct {
	Files   int `json:"files"`
	Chunks  int `json:"chunks"`
	Skipped int `json:"skipped"`
}

var indexCmd = &cobra.Command{
	Use:   "index <library-id>",
	Short: "Index a library's converted documents for similarity search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "index")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := indexLibrary(cmd.Context(), args[0], env.Store, env.Docs, env.Vectors)
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), sum)
	},
}

// indexLibrary indexes the latest markdown of every non-archived file.
// Files without converted markdown are skipped.
func indexLibrary(ctx context.Context, libraryID string, files libraryFiles, docs docstore.Store, idx fileIndexer) (indexSummary, error) {
	var sum indexSummary
	list, err := files.ListLibraryFiles(ctx, libraryID)
	if err != nil {
		return sum, eris.Wrapf(err, "index: list files of library %s", libraryID)
	}
	for _, f := range list {
		md, err := docs.LatestMarkdown(ctx, f.ID, libraryID)
		if errors.Is(err, docstore.ErrNoMarkdown) {
			sum.Skipped++
			continue
		}
		if err != nil {
			return sum, err
		}
		n, err := idx.IndexFile(ctx, libraryID, f.ID, f.Name, md)
		if err != nil {
			return sum, err
		}
		sum.Files++
		sum.Chunks += n
	}
	zap.L().Info("library indexed",
		zap.String("library_id", libraryID),
		zap.Int("files", sum.Files),
		zap.Int("chunks", sum.Chunks),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
