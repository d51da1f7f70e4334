package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/soyeahso/wayfarer/internal/store"
	"github.com/spf13/cobra"
)

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect cached chat threads",
	}

	cmd.AddCommand(newThreadsListCmd())
	cmd.AddCommand(newThreadsShowCmd())
	cmd.AddCommand(newThreadsDeleteCmd())
	return cmd
}

func newThreadsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Close()

			threads, err := backend.Threads.ListThreads(cmd.Context())
			if err != nil {
				return err
			}
			if len(threads) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no cached threads")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tMESSAGES\tUPDATED\tLAST")
			for _, t := range threads {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					t.ConversationID, t.Kind, t.MessageCount,
					t.UpdatedAt.Local().Format("2006-01-02 15:04"), truncate(t.LastText, 48))
			}
			return tw.Flush()
		},
	}
}

func newThreadsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a cached conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Close()

			msgs, err := backend.Threads.LoadThread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if msgs == nil {
				return fmt.Errorf("thread not found: %s", args[0])
			}
			out := newChatPrinter(cmd.OutOrStdout())
			for _, m := range msgs {
				out.printMessage(m)
			}
			return nil
		},
	}
}

func newThreadsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Drop a conversation from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := backend.Threads.DeleteThread(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("thread not found: %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
