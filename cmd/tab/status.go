package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/client"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check configuration, storage and connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context())
	},
}

func runStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Println("=== Tab Status ===")
	fmt.Println()

	allGood := true

	fmt.Printf("Config file (%s): ", configPath)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Println("- not found, using environment only")
	} else {
		fmt.Println("✓ Loaded")
	}

	checkLabels(&allGood)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("Store (%s): ✗ %v\n", cfg.Store, err)
		printFinalStatus(false)
		return nil
	}
	defer a.Close(time.Second)
	fmt.Printf("Store (%s): ✓ Connected\n", cfg.Store)

	checkSheets(ctx, a, &allGood)
	checkReaders(ctx, a, &allGood)

	printFinalStatus(allGood)
	return nil
}

func checkLabels(allGood *bool) {
	fmt.Print("Embedded labels: ")
	labels, err := parseLabels(labelsInput)
	if err != nil {
		fmt.Printf("✗ Invalid: %v\n", err)
		*allGood = false
		return
	}
	fmt.Printf("✓ %d labels\n", len(labels))
}

func checkSheets(ctx context.Context, a *app, allGood *bool) {
	fmt.Print("Spreadsheet sync: ")
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err := a.repo.TestSheetsConnection(ctx)
	switch {
	case errors.Is(err, api.ErrNotConfigured):
		fmt.Println("⚠ Not configured (set spreadsheet id and credentials)")
	case err != nil:
		fmt.Printf("✗ %v\n", err)
		*allGood = false
	default:
		fmt.Println("✓ Connected")
	}

	unsynced, err := a.store.ListUnsynced(ctx)
	if err == nil {
		fmt.Printf("Unsynced expenses: %d\n", len(unsynced))
	}
}

func checkReaders(ctx context.Context, a *app, allGood *bool) {
	sources, err := a.cfg.Sources()
	if err != nil {
		fmt.Printf("Readers: ✗ %v\n", err)
		*allGood = false
		return
	}
	if len(sources) == 0 {
		fmt.Println("Readers: - none configured (HTTP intake only)")
		return
	}

	for _, s := range sources {
		fmt.Printf("Reader %s: ", s.Plugin)
		if _, err := a.registry.GetReader(s.Plugin); err != nil {
			fmt.Printf("✗ %v\n", err)
			*allGood = false
			continue
		}
		if s.Plugin != "gmail" {
			fmt.Println("✓ Registered")
			continue
		}

		scopes, _ := a.registry.Scopes(s.Plugin)
		httpClient, err := client.Cached(a.cfg.ClientSecretFile, a.cfg.TokenFile, scopes...)
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			*allGood = false
			continue
		}
		if err := testGmailAPI(ctx, httpClient); err != nil {
			fmt.Printf("✗ %v\n", err)
			*allGood = false
			continue
		}
		fmt.Println("✓ Connected")
	}
}

func testGmailAPI(ctx context.Context, httpClient *http.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}
	if _, err := svc.Users.Labels.List("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("API call failed: %w", err)
	}
	return nil
}

func printFinalStatus(allGood bool) {
	fmt.Println()
	if allGood {
		fmt.Println("Status: ✓ Ready")
		fmt.Println()
		fmt.Println("Run 'tab serve' to start.")
	} else {
		fmt.Println("Status: ✗ Configuration issues detected")
		fmt.Println()
		fmt.Println("Fix the issues above, then run 'tab status' again.")
	}
}
