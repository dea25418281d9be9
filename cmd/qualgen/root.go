package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"qualgen/pkg/config"
	"qualgen/pkg/persistence"
	"qualgen/pkg/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	projectDir string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "qualgen",
		Short:         "Generate GAMP-5 OQ test suites from URS documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to qualgen.yaml (default: ./qualgen.yaml or .qualgen/qualgen.yaml)")
	cmd.PersistentFlags().StringVar(&opts.projectDir, "project-dir", ".", "project directory holding .qualgen state")

	cmd.AddCommand(
		newRunCmd(opts),
		newCategorizeCmd(opts),
		newIndexCmd(opts),
		newSecretsCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.String())
		},
	}
}

// loadConfig loads configuration and decrypts the secrets file when one
// exists. Secrets are asked for up front so an agent never stalls on a
// password prompt mid-pipeline.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if config.SecretsFileExists(opts.projectDir) {
		password := os.Getenv("QUALGEN_PASSWORD")
		if password == "" {
			password, err = promptPassword("Enter the project password to unlock stored credentials: ")
			if err != nil {
				return config.Config{}, fmt.Errorf("failed to read password: %w", err)
			}
		}
		secrets, err := config.DecryptSecretsFile(opts.projectDir, password)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to decrypt secrets: %w", err)
		}
		config.SetDecryptedSecrets(secrets)
	}

	return cfg, nil
}

// openDatabase initializes the singleton database under the data dir with
// a fresh session ID and returns the session-scoped operations handle.
func openDatabase(cfg config.Config) (*persistence.DatabaseOperations, error) {
	if err := os.MkdirAll(cfg.Paths.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "qualgen.db")
	if err := persistence.Initialize(dbPath, uuid.NewString()); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return persistence.Ops(), nil
}
