package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"blockdb/db"
)

func init() {
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "recover",
			Short: "Roll back the transactions left unfinished in the log",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := db.Open(cfg, db.WithLogger(log))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recovered %s (%s)\n", cfg.Directory, d.ID())
				return d.Close()
			},
		})
}
