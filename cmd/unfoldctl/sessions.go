package main

import (
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/session"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new <title>",
	Short: "Start a new session",
	Long: `Start a new session at the invoking stage.

Examples:
  unfoldctl new "The Drowned Bell"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap session.Snapshot
		if err := callAPI(http.MethodPost, "/api/sessions", map[string]string{"title": args[0]}, &snap); err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), snap.Session)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out struct {
			Sessions []*domain.Session `json:"sessions"`
		}
		if err := callAPI(http.MethodGet, "/api/sessions", nil, &out); err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tSTAGE\tACTIVE")
		for _, s := range out.Sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", s.ID, s.Title, s.Stage, s.IsActive)
		}
		return w.Flush()
	},
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the active session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var snap session.Snapshot
		if err := callAPI(http.MethodGet, "/api/sessions/active", nil, &snap); err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), snap.Session)
		return nil
	},
}

func transitionCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sess domain.Session
			if err := callAPI(http.MethodPost, "/api/sessions/"+args[0]+"/"+op, nil, &sess); err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), &sess)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newCmd, listCmd, activeCmd,
		transitionCmd("advance", "Move a session to its next stage"),
		transitionCmd("abandon", "Abandon a session"),
		transitionCmd("complete", "Complete a session at the delivering stage"),
	)
}

func printSession(w io.Writer, s *domain.Session) {
	if s == nil {
		return
	}
	state := "active"
	if !s.IsActive {
		state = "inactive"
	}
	fmt.Fprintf(w, "%s  %q  stage=%s  %s\n", s.ID, s.Title, s.Stage, state)
}
