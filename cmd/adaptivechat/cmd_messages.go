package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/adaptivechat/internal/messages"
	"github.com/user/adaptivechat/internal/types"
)

func init() {
	rootCmd.AddCommand(messagesCmd)
}

var messagesCmd = &cobra.Command{
	Use:   "messages <thread-id>",
	Short: "List the persisted messages of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}

		list, err := messages.Collect(cmd.Context(), rt.messages, types.ThreadID(args[0]))
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tROLE\tCONTENT")
		for _, m := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Role, preview(m.Content, 60))
		}
		return w.Flush()
	},
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
