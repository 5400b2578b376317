package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/byte4ever/tagpromoter/gitops/commitmsg"
)

func newLintCommitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lint-commit <message>",
		Short: "Check a commit message against the team convention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := commitmsg.Parse(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(
				cmd.OutOrStdout(), "ok: %s %s\n", msg.Type, msg.Ticket,
			)

			return nil
		},
	}
}
