// Package main provides vaultctl, an operator CLI for the vault engine API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	accountID string
)

func main() {
	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Operator CLI for the vault engine",
		Long: `vaultctl drives the vault engine HTTP API: vault lifecycle,
asset management, operation cycles, and pending request handling.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "API server base URL")
	root.PersistentFlags().StringVar(&accountID, "account", "", "Account identity sent as X-Account-ID")

	root.AddCommand(
		newListCmd(),
		newGetCmd(),
		newCreateCmd(),
		newRatioCmd(),
		newValueCmd(),
		newDepositCmd(),
		newWithdrawCmd(),
		newExecuteCmd(),
		newEpochCmd(),
		newStartOperationCmd(),
		newReturnAssetsCmd(),
		newRefreshCmd(),
		newCloseOperationCmd(),
		newForceReleaseCmd(),
		newSetToleranceCmd(),
		newDisableCmd(),
		newEnableCmd(),
		newHistoryCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", fmt.Sprintf("/api/vaults?limit=%d&offset=%d", limit, offset), nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum vaults to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset into the vault list")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <vault-id>",
		Short: "Show a vault's full view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", "/api/vaults/"+args[0], nil)
		},
	}
}

func newCreateCmd() *cobra.Command {
	var principalType string
	cmd := &cobra.Command{
		Use:   "create <vault-id>",
		Short: "Create a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults", map[string]interface{}{
				"id":            args[0],
				"principalType": principalType,
			})
		},
	}
	cmd.Flags().StringVar(&principalType, "principal", "", "Principal asset type id (required)")
	_ = cmd.MarkFlagRequired("principal")
	return cmd
}

func newRatioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ratio <vault-id>",
		Short: "Show the vault's share ratio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", "/api/vaults/"+args[0]+"/ratio", nil)
		},
	}
}

func newValueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "value <vault-id>",
		Short: "Show the vault's total USD value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", "/api/vaults/"+args[0]+"/value", nil)
		},
	}
}

func newDepositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <vault-id> <amount-usd>",
		Short: "Submit a deposit request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/deposits", map[string]interface{}{
				"amountUsd": args[1],
			})
		},
	}
}

func newWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <vault-id> <shares>",
		Short: "Submit a withdrawal request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/withdrawals", map[string]interface{}{
				"shares": args[1],
			})
		},
	}
}

func newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <vault-id> <receipt-id>",
		Short: "Execute a pending request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/receipts/"+args[1]+"/execute", nil)
		},
	}
}

func newEpochCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "epoch <vault-id>",
		Short: "Roll the vault's loss epoch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/epoch", nil)
		},
	}
}

func newStartOperationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-operation <vault-id> <type-id>...",
		Short: "Start an operation borrowing the named asset types",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/operations", map[string]interface{}{
				"requested": args[1:],
			})
		},
	}
}

func newReturnAssetsCmd() *cobra.Command {
	var holdingsJSON string
	cmd := &cobra.Command{
		Use:   "return-assets <vault-id>",
		Short: "Return borrowed assets to custody",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var holdings []map[string]interface{}
			if err := json.Unmarshal([]byte(holdingsJSON), &holdings); err != nil {
				return fmt.Errorf("invalid --holdings JSON: %w", err)
			}
			return call("POST", "/api/vaults/"+args[0]+"/operations/return", map[string]interface{}{
				"returned": holdings,
			})
		},
	}
	cmd.Flags().StringVar(&holdingsJSON, "holdings", "", `Returned holdings as a JSON array, e.g. '[{"typeId":"aave-usdc","kind":"lending","units":"100","handle":"0x..:0x..:0x.."}]'`)
	_ = cmd.MarkFlagRequired("holdings")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <vault-id> <type-id>",
		Short: "Refresh one asset type's valuation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/assets/"+args[1]+"/refresh", nil)
		},
	}
}

func newCloseOperationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close-operation <vault-id>",
		Short: "Close the open operation after full revaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/operations/close", nil)
		},
	}
}

func newSetToleranceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-tolerance <vault-id> <fraction>",
		Short: "Set the vault's per-epoch loss tolerance fraction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("PUT", "/api/vaults/"+args[0]+"/tolerance", map[string]interface{}{
				"toleranceFraction": args[1],
			})
		},
	}
}

func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <vault-id>",
		Short: "Disable a vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/disable", nil)
		},
	}
}

func newEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <vault-id>",
		Short: "Re-enable a disabled vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/enable", nil)
		},
	}
}

func newForceReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-release <vault-id>",
		Short: "Force release a timed-out operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/vaults/"+args[0]+"/operations/force-release", nil)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <vault-id>",
		Short: "Show the vault's operation audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", fmt.Sprintf("/api/vaults/%s/operations/history?limit=%d", args[0], limit), nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events to return")
	return cmd
}

// call sends one API request and pretty-prints the JSON response
func call(method, path string, body interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set("X-Account-ID", accountID)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
	} else {
		fmt.Println(pretty.String())
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}
