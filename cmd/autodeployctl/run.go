package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/client"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

func submitCmd(cf *connFlags) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "submit <session-id> <request...>",
		Short: "Send a deployment request to a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sessionID, text := args[0], strings.Join(args[1:], " ")
			out := cmd.OutOrStdout()

			var stream *client.Stream
			if watch {
				// Subscribe before submitting so no step event is missed.
				if stream, err = c.Stream(ctx, sessionID, -1); err != nil {
					return err
				}
			}
			resp, err := c.Submit(ctx, sessionID, text)
			if err != nil {
				if stream != nil {
					_ = stream.Close()
				}
				if client.IsStatus(err, http.StatusConflict) {
					return errors.New("a run is already in progress in this session; cancel it or wait for it to finish")
				}
				return err
			}
			fmt.Fprintln(out, infoMsg("Started run %s", resp.RunID))
			if !watch {
				return nil
			}
			return followRun(ctx, out, c, stream, sessionID, resp.RunID)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the run until it finishes")
	return cmd
}

func cancelCmd(cf *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel the active run of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			resp, err := c.Cancel(cmd.Context(), args[0])
			if client.IsStatus(err, http.StatusConflict) {
				fmt.Fprintln(cmd.OutOrStdout(), warnMsg("No run in progress"))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("Cancellation requested for run %s", resp.RunID))
			return nil
		},
	}
}

func statusCmd(cf *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the steps and last run of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			s, err := c.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s  %s\n", boldStyle.Render("Session"), s.ID, runStatus(s.Status))
			if r := s.LastRun; r != nil {
				fmt.Fprintf(out, "%s %s  %s\n", muted("Run:    "), r.ID, runStatus(r.Status))
				fmt.Fprintf(out, "%s %s\n", muted("Request:"), r.Request)
				if r.Error != "" {
					fmt.Fprintf(out, "%s %s\n", muted("Error:  "), errorStyle.Render(r.Error))
				}
			}
			fmt.Fprint(out, renderSteps(s.Steps))
			return nil
		},
	}
}

func watchCmd(cf *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow the active run of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sessionID := args[0]

			stream, err := c.Stream(ctx, sessionID, -1)
			if err != nil {
				return err
			}
			s, err := c.GetSession(ctx, sessionID)
			if err != nil {
				_ = stream.Close()
				return err
			}
			if s.Status != models.RunRunning || s.LastRun == nil {
				_ = stream.Close()
				fmt.Fprintln(cmd.OutOrStdout(), muted("no run in progress"))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSteps(s.Steps))
			return followRun(ctx, cmd.OutOrStdout(), c, stream, sessionID, s.LastRun.ID)
		},
	}
}

// followRun prints step transitions and agent narration until the run ends,
// then the final tracker. A failed or cancelled run is reported as an error.
func followRun(ctx context.Context, out io.Writer, c *client.Client, stream *client.Stream, sessionID, runID string) error {
	final, err := c.Watch(ctx, stream, sessionID, runID, func(ev client.Event) error {
		if ev.RunID != "" && ev.RunID != runID {
			return nil
		}
		switch ev.Type {
		case events.EventTypeStepStatus:
			status := models.StepStatus(ev.Status)
			if status == models.StepPending {
				return nil
			}
			line := fmt.Sprintf("%s %s", stepMarker(status), ev.StepLabel)
			if ev.Error != "" {
				line += "  " + errorStyle.Render(ev.Error)
			}
			fmt.Fprintln(out, line)
		case events.EventTypeEntryAppended:
			if ev.Origin == models.OriginUser {
				return nil
			}
			fmt.Fprintln(out, renderEntry(ev.Origin, ev.Kind, ev.Content))
		}
		return nil
	})
	if err != nil {
		return err
	}

	steps, err := c.Steps(ctx, sessionID)
	if err == nil {
		fmt.Fprint(out, renderSteps(steps.Steps))
	}
	switch models.RunStatus(final.Status) {
	case models.RunSucceeded:
		fmt.Fprintln(out, successMsg("Run %s succeeded", runID))
		return nil
	case models.RunCancelled:
		return fmt.Errorf("run %s cancelled after %d steps", runID, final.CompletedSteps)
	default:
		return fmt.Errorf("run %s failed at step %q: %s", runID, final.FailedStep, final.Error)
	}
}
