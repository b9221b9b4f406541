package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"recordpad/client"

	"github.com/spf13/cobra"
)

const padHelp = `Commands:
  key <text>     set the record key
  draft <text>   set the draft value
  user <name>    set the username
  uri <uri>      set the record URI to fetch
  commit         commit the current key and draft
  fetch          fetch the record URI into the response
  show           print every field
  quit           leave the pad`

var padCmd = &cobra.Command{
	Use:   "pad",
	Short: "Edit and fetch records interactively",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newClient()
		if err != nil {
			fatal("Failed to create client", err)
		}
		s := client.NewSession(c)
		if conf.Client.Username != "" {
			s.SetUsername(conf.Client.Username)
		}
		runPad(cmd.Context(), s, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(padCmd)
}

// runPad reads commands until quit or end of input. Commits still in flight
// are finished before it returns.
func runPad(ctx context.Context, s *client.Session, in io.Reader, out io.Writer) {
	defer s.Wait()

	fmt.Fprintln(out, padHelp)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")

		switch cmd {
		case "":
		case "key":
			s.SetKey(arg)
		case "draft":
			s.SetDraft(arg)
		case "user":
			s.SetUsername(arg)
		case "uri":
			s.SetRecordURI(arg)
		case "commit":
			s.Commit()
			fmt.Fprintln(out, "sent")
		case "fetch":
			if err := s.Fetch(ctx); err != nil {
				fmt.Fprintf(out, "fetch failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, s.Response())
		case "show":
			fmt.Fprintf(out, "key: %s\ndraft: %s\nuser: %s\nuri: %s\nresponse:\n%s\n",
				s.Key(), s.Draft(), s.Username(), s.RecordURI(), s.Response())
		case "quit", "exit":
			return
		default:
			fmt.Fprintln(out, padHelp)
		}
	}
}
