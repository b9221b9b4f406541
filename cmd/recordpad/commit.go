package main

import (
	"context"
	"fmt"
	"time"

	"recordpad/pkg/record"

	"github.com/spf13/cobra"
)

var (
	commitKey   string
	commitValue string
	commitUser  string
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit a message document",
	Long:  `Commit a message document with the given key and value, signed at the current time, and wait for the service to accept it.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newClient()
		if err != nil {
			fatal("Failed to create client", err)
		}

		user := commitUser
		if user == "" {
			user = conf.Client.Username
		}

		doc := record.NewMessage(commitKey, commitValue, user, time.Now())
		if err := c.Commit(context.Background(), doc); err != nil {
			fatal("Failed to commit", err)
		}
		fmt.Printf("Committed %s\n", record.ComposeURI(doc.Owner, doc.Key))
	},
}

func init() {
	rootCmd.AddCommand(commitCmd)
	commitCmd.Flags().StringVarP(&commitKey, "key", "k", "", "Record key")
	commitCmd.Flags().StringVar(&commitValue, "value", "", "Record value")
	commitCmd.Flags().StringVarP(&commitUser, "user", "u", "", "Signer and owner (default from config)")
	commitCmd.MarkFlagRequired("key")
}
