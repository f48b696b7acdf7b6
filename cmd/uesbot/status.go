package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"uesbot/internal/compose"
	"uesbot/internal/model"
	"uesbot/internal/state"
	"uesbot/internal/store"
	"uesbot/internal/urgency"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showEvents bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted bot state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.State.Backend, cfg.State.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := state.Load(cmd.Context(), s)
			if err != nil {
				return err
			}
			loc := cfg.Location()
			now := time.Now()

			sleep := "No"
			if st.Sleeping(now) {
				sleep = compose.FormatTime(st.SleepUntil, loc)
			}
			interval := cfg.Schedule.IntervalMinutes
			if st.IntervalMinutes > 0 {
				interval = st.IntervalMinutes
			}
			lastErr := st.LastError
			if lastErr == "" {
				lastErr = "-"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Field", "Value"},
				[][]string{
					{"Sleeping until", sleep},
					{"Quiet hours", st.QuietWindow(cfg.QuietWindow()).String()},
					{"Interval", strconv.Itoa(interval) + " min"},
					{"Tracked events", strconv.Itoa(len(st.Events))},
					{"Reminders sent", strconv.Itoa(len(st.Reminders))},
					{"Last run", compose.FormatTime(st.LastRun, loc)},
					{"Consecutive errors", strconv.Itoa(st.ConsecutiveErrors)},
					{"Last error", compose.Short(lastErr, 80)},
				},
				nil,
			))

			if !showEvents {
				return nil
			}
			events, err := state.LoadSnapshot(cmd.Context(), s)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Bucket", "Due", "Course", "Title", "Status"},
				eventRows(compose.SortByDue(events), cfg.Notify.UrgentHours, now, loc),
				nil,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showEvents, "events", false, "Also list the events of the last successful cycle")
	return cmd
}

func eventRows(events []model.Event, urgentHours int, now time.Time, loc *time.Location) [][]string {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		due := e.DueText
		if e.HasDue() {
			due = e.Due.In(loc).Format("2006-01-02 15:04")
		}
		status := e.SubmissionStatus
		if status == "" {
			status = e.Submission.String()
		}
		rows = append(rows, []string{
			string(urgency.Classify(e, urgentHours, now)),
			due,
			compose.Short(e.CourseName, 30),
			compose.Short(e.Title, 50),
			compose.Short(status, 30),
		})
	}
	return rows
}
