package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-match a company's stored vendor predictions against its roster",
	Long: `Reconcile re-runs vendor matching for every invoice, client-bill invoice
and contract of a company whose prediction is unmatched or points to a
vendor that is no longer on the roster. Only changed predictions are
written. The summary is printed as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		summary, err := a.Reconciler.Reconcile(cmd.Context(), company)
		if err != nil {
			return err
		}
		return printJSON(cmd, summary)
	},
}

var syncVendorsCmd = &cobra.Command{
	Use:   "sync-vendors",
	Short: "Add accounting-system vendors missing from the roster, then reconcile",
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		token, _ := cmd.Flags().GetString("account-token")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if a.Syncer == nil {
			return errors.New("AGAVE_CLIENT_ID and AGAVE_CLIENT_SECRET are required for vendor sync")
		}
		res, err := a.Syncer.Sync(cmd.Context(), company, token)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	reconcileCmd.Flags().String("company", "", "company id")
	_ = reconcileCmd.MarkFlagRequired("company")

	syncVendorsCmd.Flags().String("company", "", "company id")
	syncVendorsCmd.Flags().String("account-token", "", "Agave account token (default: AGAVE_ACCOUNT_TOKEN)")
	_ = syncVendorsCmd.MarkFlagRequired("company")

	rootCmd.AddCommand(reconcileCmd, syncVendorsCmd)
}
