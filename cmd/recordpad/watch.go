package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"recordpad/pkg/record"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [owner]",
	Short: "Stream commit events",
	Long:  `Stream commit and delete events for an owner, or for every owner when none is given, until interrupted.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		owner := ""
		if len(args) == 1 {
			owner = args[0]
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		enc := json.NewEncoder(os.Stdout)
		return c.Watch(ctx, owner, func(e record.Event) {
			if err := enc.Encode(e); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding event: %v\n", err)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
