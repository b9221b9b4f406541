package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var childrenCmd = &cobra.Command{
	Use:   "children [uri]",
	Short: "List the records that reference a record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newClient()
		if err != nil {
			fatal("Failed to create client", err)
		}

		text, err := c.FetchChildren(context.Background(), args[0])
		if err != nil {
			fatal("Failed to fetch children", err)
		}
		fmt.Println(text)
	},
}

func init() {
	rootCmd.AddCommand(childrenCmd)
}
