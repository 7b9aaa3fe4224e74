package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentd/internal/session"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect persisted sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: withSessions(func(ctx context.Context, store session.Store, args []string) error {
		list, err := store.List(ctx)
		if err != nil {
			return err
		}
		if sessionsJSON {
			return printJSON(list)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUPDATED\tMESSAGES\tTOKENS\tDESCRIPTION\t")
		for _, m := range list {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t\n",
				m.ID,
				time.Unix(m.Updated, 0).Format("2006-01-02 15:04"),
				m.MessageCount,
				m.Usage.TotalTokens,
				m.Description,
			)
		}
		return w.Flush()
	}),
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: withSessions(func(ctx context.Context, store session.Store, args []string) error {
		meta, err := store.Metadata(ctx, args[0])
		if err != nil {
			return err
		}
		messages, err := store.Load(ctx, args[0])
		if err != nil {
			return err
		}
		if sessionsJSON {
			return printJSON(map[string]any{"metadata": meta, "messages": messages})
		}
		r := newRenderer(os.Stdout, false, true)
		r.Banner(meta.ID, meta.Provider, meta.Model)
		for _, m := range messages {
			if text := m.Text(); m.Role == "user" && text != "" {
				r.User(text)
			}
			r.Message(m)
		}
		return nil
	}),
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: withSessions(func(ctx context.Context, store session.Store, args []string) error {
		if err := store.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	}),
}

func init() {
	sessionsCmd.PersistentFlags().BoolVar(&sessionsJSON, "json", false, "Print JSON")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
}

// withSessions opens the configured session store around fn.
func withSessions(fn func(ctx context.Context, store session.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, cfg, _, err := openConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openSessions(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStore()
		return fn(ctx, store, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
