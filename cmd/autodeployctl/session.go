package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func sessionCmd(cf *connFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage chat sessions",
	}
	cmd.AddCommand(sessionCreateCmd(cf))
	cmd.AddCommand(sessionListCmd(cf))
	cmd.AddCommand(sessionDeleteCmd(cf))
	cmd.AddCommand(sessionRunsCmd(cf))
	return cmd
}

func sessionCreateCmd(cf *connFlags) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			s, err := c.CreateSession(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if quiet {
				fmt.Fprintln(out, s.ID)
				return nil
			}
			fmt.Fprintln(out, successMsg("Created session %s", boldStyle.Render(s.ID)))
			fmt.Fprint(out, renderSteps(s.Steps))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the session ID")
	return cmd
}

func sessionListCmd(cf *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			sessions, err := c.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, muted("no sessions"))
				return nil
			}

			rows := make([][]string, len(sessions))
			for i, s := range sessions {
				request := "-"
				if s.LastRun != nil {
					request = truncate(s.LastRun.Request, 40)
				}
				rows[i] = []string{
					s.ID,
					s.CreatedAt.Local().Format(time.DateTime),
					runStatus(s.Status),
					strconv.Itoa(s.Entries),
					request,
				}
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Created", "Status", "Entries", "Last request"}, rows))
			return nil
		},
	}
}

func sessionDeleteCmd(cf *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session, cancelling its active run",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			if err := c.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("Deleted session %s", args[0]))
			return nil
		},
	}
}

func sessionRunsCmd(cf *connFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <session-id>",
		Short: "Show the stored run history of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			runs, err := c.Runs(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, muted("no runs recorded"))
				return nil
			}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.ID,
					r.StartedAt.Local().Format(time.DateTime),
					runStatus(r.Status),
					strconv.Itoa(r.CompletedSteps),
					truncate(r.Request, 40),
				}
			}
			fmt.Fprintln(out, renderTable([]string{"Run", "Started", "Status", "Steps done", "Request"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
