package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <login>",
		Short: "Print one curated user by login (case-insensitive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			user, err := appInstance.Catalog().ByLogin(args[0])
			if err != nil {
				return fmt.Errorf("lookup %q: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), user)
		},
	}
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "List curated users whose login contains term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			users, err := appInstance.Catalog().Search(args[0])
			if err != nil {
				return fmt.Errorf("search %q: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), users)
		},
	}
}
