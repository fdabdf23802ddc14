package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/tab/internal/daemon"
	"github.com/ArionMiles/tab/internal/plugins"
	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/client"
	"github.com/ArionMiles/tab/pkg/export"
	"github.com/ArionMiles/tab/pkg/ingest"
	"github.com/ArionMiles/tab/pkg/parser/notification"
	"github.com/ArionMiles/tab/pkg/parser/sms"
	"github.com/ArionMiles/tab/pkg/reader/gmail"
	"github.com/ArionMiles/tab/pkg/reader/mbox"
)

var (
	exportFormat string

	importKeepDuplicates bool

	parseSender  string
	parsePackage string
	parseTitle   string

	mboxSender  string
	mboxConfirm bool
)

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write all expenses to a CSV or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			expenses, err := a.repo.ListExpenses(ctx)
			if err != nil {
				return err
			}
			return export.ToFile(args[0], exportFormat, expenses, logger)
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE.csv",
	Short: "Add expenses from a CSV backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expenses, err := export.FromFile(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			added, skipped := 0, 0
			for i := range expenses {
				e := expenses[i]
				e.ID = 0
				if !importKeepDuplicates {
					dup, err := a.repo.FindDuplicate(ctx, &e)
					if err != nil {
						return err
					}
					if dup != nil {
						skipped++
						continue
					}
				}
				if _, err := a.repo.AddExpense(ctx, &e); err != nil {
					return fmt.Errorf("row %d: %w", i+1, err)
				}
				added++
			}
			fmt.Printf("Imported %d expense(s), skipped %d duplicate(s)\n", added, skipped)
			return nil
		})
	},
}

var parseCmd = &cobra.Command{
	Use:   "parse TEXT",
	Short: "Show what would be detected in an SMS or notification text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		var parsed *api.ParsedExpense
		if parsePackage != "" {
			msg := &api.Message{
				Kind:   api.KindNotification,
				Sender: parsePackage,
				Title:  parseTitle,
				Body:   text,
			}
			if !notification.Accept(msg) {
				return errors.New("notification is not a bank transfer alert")
			}
			parsed = notification.New(logger).Parse(msg)
		} else {
			if !ingest.SenderAllowed(parseSender, splitList(cfg.AllowedSenders)) {
				return fmt.Errorf("sender %q is not allowed", parseSender)
			}
			parsed = sms.New(logger).Parse(text)
		}
		if parsed == nil {
			return errors.New("no expense found")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(parsed)
	},
}

var importMboxCmd = &cobra.Command{
	Use:   "import-mbox FILE",
	Short: "Replay bank alert e-mails from an mbox archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := json.Marshal(mbox.Config{Path: args[0], Sender: mboxSender})
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			runner := daemon.New(a.registry, nil, a.ingest, logger.With("component", "daemon"))
			if err := runner.Run(ctx, []daemon.Source{{Plugin: "mbox", Config: raw}}); err != nil {
				return err
			}

			detections := a.ingest.Inbox().List()
			saved, duplicates := 0, 0
			for _, d := range detections {
				if !mboxConfirm {
					fmt.Printf("%s  %s  %s\n", d.Expense.Date.Format("2006-01-02"), d.Expense.Description, ingest.Render(&d).Content)
					continue
				}
				if d.DuplicateOf != nil {
					duplicates++
					continue
				}
				if _, err := a.ingest.Confirm(ctx, d.ID, ingest.Edits{}); err != nil {
					return err
				}
				saved++
			}
			if mboxConfirm {
				fmt.Printf("Saved %d expense(s), skipped %d duplicate(s)\n", saved, duplicates)
			} else {
				fmt.Printf("%d expense(s) detected; rerun with --confirm to save them\n", len(detections))
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "csv or json (default: from file extension)")
	importCmd.Flags().BoolVar(&importKeepDuplicates, "keep-duplicates", false, "Import rows that look like existing expenses")

	parseCmd.Flags().StringVarP(&parseSender, "sender", "s", "", "SMS sender")
	parseCmd.Flags().StringVarP(&parsePackage, "package", "p", "", "Notification package, parses TEXT as a notification")
	parseCmd.Flags().StringVarP(&parseTitle, "title", "t", "", "Notification title")

	importMboxCmd.Flags().StringVarP(&mboxSender, "sender", "s", "", "Only replay messages from this sender")
	importMboxCmd.Flags().BoolVar(&mboxConfirm, "confirm", false, "Save every detection that is not a duplicate")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var (
	dumpQuery string
	dumpMax   int64
)

var dumpGmailCmd = &cobra.Command{
	Use:   "dump-gmail DIR",
	Short: "Save the text of matching Gmail alerts as parser test samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		scopes, err := plugins.Default().Scopes("gmail")
		if err != nil {
			return err
		}
		httpClient, err := client.Cached(cfg.ClientSecretFile, cfg.TokenFile, scopes...)
		if err != nil {
			return err
		}
		r, err := gmail.New(httpClient, gmail.Config{}, logger.With("component", "gmail_reader"))
		if err != nil {
			return err
		}
		n, err := r.Dump(ctx, args[0], dumpQuery, dumpMax)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d sample(s) to %s\n", n, args[0])
		return nil
	},
}

func init() {
	dumpGmailCmd.Flags().StringVarP(&dumpQuery, "query", "q", gmail.DefaultQuery, "Gmail search query")
	dumpGmailCmd.Flags().Int64VarP(&dumpMax, "max", "n", 10, "Maximum messages to fetch")
	rootCmd.AddCommand(dumpGmailCmd)
}
