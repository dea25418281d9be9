package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"qualgen/pkg/agent"
	"qualgen/pkg/agent/middleware/metrics"
	"qualgen/pkg/categorizer"
	"qualgen/pkg/templates"
)

func newCategorizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "categorize <urs-file>",
		Short: "Categorize a URS document without generating a suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read URS document: %w", err)
			}

			renderer, err := templates.NewRenderer()
			if err != nil {
				return err
			}

			factory := agent.NewClientFactory(cfg)
			labeler := metrics.NewStaticLabeler("categorize-cli", string(agent.RoleCategorizer), "CATEGORIZING")
			client, err := factory.CreateClient(agent.RoleCategorizer, labeler, nil)
			if err != nil {
				return err
			}

			documentName := filepath.Base(args[0])
			cat, err := categorizer.New(client, renderer).Categorize(cmd.Context(), documentName, string(content))
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(cat, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode categorization: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}
}
