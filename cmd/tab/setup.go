package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/tab/internal/plugins"
	"github.com/ArionMiles/tab/pkg/client"
)

var setupForce bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Authorize the Gmail reader with your Google account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cfg.ClientSecretFile, cfg.TokenFile, setupForce)
	},
}

func init() {
	setupCmd.Flags().BoolVarP(&setupForce, "force", "f", false, "Re-authenticate even if a token exists")
}

func runSetup(secretsPath, tokenPath string, force bool) error {
	fmt.Println("=== Tab Setup ===")
	fmt.Println()

	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return fmt.Errorf("client secret file not found: %s\n\nTo get one:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s'", secretsPath, secretsPath)
	}

	if !force {
		if _, err := os.Stat(tokenPath); err == nil {
			fmt.Printf("Already authenticated. Token file exists: %s\n", tokenPath)
			fmt.Println()
			fmt.Println("To re-authenticate, run: tab setup --force")
			return nil
		}
	}
	if force {
		if err := os.Remove(tokenPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove existing token", "error", err)
		}
		fmt.Println("Forcing re-authentication...")
		fmt.Println()
	}

	scopes, err := plugins.Default().Scopes("gmail")
	if err != nil {
		return err
	}

	fmt.Println("Required permissions:")
	fmt.Println("  - Gmail: read bank alert e-mails and mark them as read")
	fmt.Println()
	fmt.Println("Spreadsheet sync uses the service-account credentials saved in settings")
	fmt.Println("and does not need this step.")
	fmt.Println()

	if _, err := client.New(secretsPath, tokenPath, scopes...); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Setup Complete ===")
	fmt.Printf("Token saved to: %s\n", tokenPath)
	fmt.Println()
	fmt.Println(`Add a gmail source to TAB_READERS, e.g. [{"plugin":"gmail","config":{}}],`)
	fmt.Println("then run 'tab serve'.")
	return nil
}
