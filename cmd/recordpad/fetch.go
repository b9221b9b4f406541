package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [uri]",
	Short: "Fetch a record",
	Long:  `Fetch the record at a URI, such as cc://user000/hello, and print the service's answer as indented JSON.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newClient()
		if err != nil {
			fatal("Failed to create client", err)
		}

		text, err := c.FetchRecord(context.Background(), args[0])
		if err != nil {
			fatal("Failed to fetch", err)
		}
		fmt.Println(text)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
