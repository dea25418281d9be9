package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"qualgen/pkg/config"
)

func newSecretsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted API credentials",
	}
	cmd.AddCommand(newSecretsInitCmd(opts))
	return cmd
}

// secretNames are the credentials offered during secrets init. Only
// non-empty entries are stored; everything else stays env-var driven.
//
//nolint:gochecknoglobals // Static prompt list
var secretNames = []string{
	config.EnvAnthropicAPIKey,
	config.EnvOpenAIAPIKey,
	config.EnvGoogleAPIKey,
	config.EnvOpenFDAAPIKey,
}

func newSecretsInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Encrypt API keys into .qualgen/secrets.json.enc",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(syscall.Stdin) {
				return fmt.Errorf("secrets init requires a terminal")
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}

			scanner := bufio.NewScanner(os.Stdin)
			secrets := make(map[string]string)
			for _, name := range secretNames {
				fmt.Printf("Enter %s (press Enter to skip): ", name)
				if !scanner.Scan() {
					break
				}
				if value := strings.TrimSpace(scanner.Text()); value != "" {
					secrets[name] = value
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			if len(secrets) == 0 {
				return fmt.Errorf("no credentials entered, nothing to store")
			}

			if err := config.EncryptSecretsFile(opts.projectDir, password, secrets); err != nil {
				return fmt.Errorf("failed to encrypt secrets: %w", err)
			}

			cmd.Println("✅ Credentials saved to .qualgen/secrets.json.enc (file permissions: 0600)")
			cmd.Println("💡 Set QUALGEN_PASSWORD to skip the password prompt at startup.")
			return nil
		},
	}
}

// promptPassword reads a password without echo.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// promptNewPassword reads a password with confirmation.
func promptNewPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Print("Enter a password for this project: ")
		first, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		second, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		if !bytes.Equal(first, second) {
			if attempt < maxAttempts {
				fmt.Println("❌ Passwords do not match. Please try again.")
				continue
			}
			return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
		}

		password := string(first)
		for i := range first {
			first[i] = 0
		}
		for i := range second {
			second[i] = 0
		}
		return password, nil
	}

	return "", fmt.Errorf("failed to get matching passwords")
}
