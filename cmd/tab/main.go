// Command tab records card spending from bank SMS and notifications and
// keeps it in sync with a Google Sheet.
package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/config"
	"github.com/ArionMiles/tab/pkg/logging"
)

//go:embed content/labels.json
var labelsInput string

var (
	configPath string
	logger     *slog.Logger
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tab",
	Short: "Track card spending from bank SMS and notifications",
	Long: `tab detects expenses in bank SMS, bank-app notifications and e-mail,
asks you to confirm them, stores them locally and mirrors them to a Google Sheet.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loadEnvFile()
		logger = logging.Setup(logging.FromEnv())

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "Path to the JSON config file")

	rootCmd.AddCommand(
		serveCmd,
		syncCmd,
		refreshCmd,
		pullCmd,
		statusCmd,
		setupCmd,
		exportCmd,
		importCmd,
		parseCmd,
		importMboxCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvFile loads .env from the working directory or its parent, if present.
func loadEnvFile() {
	for _, p := range []string{".env", filepath.Join("..", ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

func parseLabels(input string) (api.Labels, error) {
	var labels api.Labels
	if err := json.Unmarshal([]byte(input), &labels); err != nil {
		return nil, fmt.Errorf("parsing labels: %w", err)
	}
	return labels, nil
}
