package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage stored sessions",
	}

	cmd.AddCommand(
		newSessionNewCmd(app),
		newSessionListCmd(app),
		newSessionShowCmd(app),
		newSessionSetCmd(app),
		newSessionRemoveCmd(app),
		newSessionExpireCmd(app),
	)

	return cmd
}

func newSessionNewCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create an empty session and print its id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := app.ids.NewSessionID()
			if err := app.state.Touch(cmd.Context(), id); err != nil {
				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
}

func newSessionListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := app.state.List(cmd.Context())
			if err != nil {
				return err
			}

			for _, session := range sessions {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\truns=%d\tkeys=%d\tupdated=%s\n",
					session.ID,
					session.LastRunSeq,
					len(session.Values),
					session.UpdatedAt.Format(time.RFC3339),
				)
			}

			return nil
		},
	}
}

func newSessionShowCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the state bag and widget values of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := app.state.Find(cmd.Context(), domain.SessionID(args[0]))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(session)
			}

			return writeSession(cmd.OutOrStdout(), session)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print session as JSON")

	return cmd
}

func newSessionSetCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <session-id> <key>=<value>",
		Short: "Set a state bag value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value, err := parseAssignment(args[1])
			if err != nil {
				return err
			}

			return app.state.Set(cmd.Context(), domain.SessionID(args[0]), key, value)
		},
	}
}

func newSessionRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <session-id>",
		Aliases: []string{"remove"},
		Short:   "Remove a session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.state.Remove(cmd.Context(), domain.SessionID(args[0]))
		},
	}
}

func newSessionExpireCmd(app *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Remove sessions idle for longer than the ttl",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("ttl") {
				ttl = app.sessionTTL
			}
			if ttl <= 0 {
				return fmt.Errorf("expire sessions: ttl must be positive (set --ttl or %s)", keySessionsTTL)
			}

			removed, err := app.state.Expire(cmd.Context(), ttl)
			if err != nil {
				return err
			}

			for _, id := range removed {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "expired: %d\n", len(removed))
			return err
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Idle time after which a session is removed")

	return cmd
}

func writeSession(w io.Writer, session domain.Session) error {
	var b strings.Builder
	fmt.Fprintf(&b, "session: %s\n", session.ID)
	fmt.Fprintf(&b, "runs: %d\n", session.LastRunSeq)
	fmt.Fprintf(&b, "created: %s\n", session.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "updated: %s\n", session.UpdatedAt.Format(time.RFC3339))

	writeBag(&b, "state", session.Values)
	writeBag(&b, "widgets", session.Widgets)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeBag(b *strings.Builder, title string, bag map[string]any) {
	fmt.Fprintf(b, "%s:\n", title)
	if len(bag) == 0 {
		b.WriteString("  (empty)\n")
		return
	}

	for _, key := range slices.Sorted(maps.Keys(bag)) {
		fmt.Fprintf(b, "  %s = %v\n", key, bag[key])
	}
}

// parseAssignment splits key=value. The value is decoded as JSON when it
// parses, so numbers and booleans keep their type; anything else is a string.
func parseAssignment(raw string) (string, any, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid assignment %q: want key=value", raw)
	}

	return key, parseValue(value), nil
}

func parseValue(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		if n, ok := decoded.(float64); ok && n == float64(int64(n)) && !strings.ContainsAny(raw, ".eE") {
			return int(n)
		}
		return decoded
	}
	return raw
}
