package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load session data once and print the result JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		noCreate, _ := cmd.Flags().GetBool("no-create")
		clearCache, _ := cmd.Flags().GetBool("clear-cache")

		rt, err := newRuntime(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}
		defer rt.Close()

		var result string
		if clearCache {
			result = rt.svc.ClearCache(cmd.Context())
		} else {
			result = rt.svc.Load(cmd.Context(), force, !noCreate)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), result)
		return err
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().Bool("force", false, "bypass the cache")
	loadCmd.Flags().Bool("no-create", false, "do not open a site tab when none exists")
	loadCmd.Flags().Bool("clear-cache", false, "clear the cache instead of loading")
}
