package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"qualgen/pkg/logx"
	"qualgen/pkg/persistence"
	"qualgen/pkg/retrieval"
)

// indexableExtensions are the document types accepted for indexing.
//
//nolint:gochecknoglobals // Static extension set
var indexableExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index <file-or-dir>",
		Short: "Chunk and embed reference documents for retrieval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ops, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = persistence.Close() }()

			embedder, err := retrieval.NewEmbedder(&cfg)
			if err != nil {
				return err
			}
			provider := retrieval.NewProvider(ops, embedder, cfg.Retrieval)

			paths, err := collectDocuments(args[0])
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no .md or .txt documents found under %s", args[0])
			}

			logger := logx.NewLogger("index")
			total := 0
			for _, path := range paths {
				content, rerr := os.ReadFile(path)
				if rerr != nil {
					return fmt.Errorf("failed to read %s: %w", path, rerr)
				}

				count, ierr := provider.Index(cmd.Context(), filepath.Base(path), string(content))
				if ierr != nil {
					return fmt.Errorf("failed to index %s: %w", path, ierr)
				}
				logger.Info("indexed %s: %d chunks", path, count)
				total += count
			}

			cmd.Printf("✅ Indexed %d documents (%d chunks)\n", len(paths), total)
			return nil
		},
	}
}

// collectDocuments resolves a file or directory argument into the list
// of indexable documents.
func collectDocuments(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}

	if !info.IsDir() {
		return []string{root}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if indexableExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return paths, nil
}
