// mogulctl is the operator's tool for the mogul API: balance
// adjustments, tax table management, manual fluctuation, loan
// forgiveness. It talks to the /v1/admin endpoints with the admin token.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"mogul/internal/cli"
	"mogul/internal/config"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	client := cli.NewClient(cfg.APIBaseURL, cfg.AdminToken)

	root := &cobra.Command{
		Use:           "mogulctl",
		Short:         "Admin tool for the mogul economy engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		balanceCmd(client),
		settingsCmd(client),
		bracketsCmd(client),
		fluctuateCmd(client),
		forgiveCmd(client),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func balanceCmd(client *cli.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "adjust-balance <user-id> <delta>",
		Short: "Credit or debit a user's account (delta may be negative)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client.AdjustBalance(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func settingsCmd(client *cli.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or replace the engine settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			out, err := client.GetSettings(c.Context())
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <settings.json>",
		Short: "Replace the settings from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var settings map[string]any
			if err := json.Unmarshal(raw, &settings); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			out, err := client.PutSettings(c.Context(), settings)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	})
	return cmd
}

func bracketsCmd(client *cli.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brackets",
		Short: "Inspect or replace the personal tax table",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the active tax brackets",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			out, err := client.GetTaxBrackets(c.Context())
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <brackets.json>",
		Short: "Replace the tax table from a JSON file (array of {min,max,rate})",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var brackets []map[string]any
			if err := json.Unmarshal(raw, &brackets); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			out, err := client.PutTaxBrackets(c.Context(), brackets)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	})
	return cmd
}

func fluctuateCmd(client *cli.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "fluctuate",
		Short: "Trigger a market-wide price fluctuation now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := client.Fluctuate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func forgiveCmd(client *cli.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "forgive-loan <loan-id>",
		Short: "Mark a loan repaid without any balance transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loanID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid loan id %q", args[0])
			}
			out, err := client.ForgiveLoan(cmd.Context(), loanID)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}
