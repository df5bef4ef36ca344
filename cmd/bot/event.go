package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xaenox/circle-bot/internal/grouping"
	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/prompts"
)

var (
	eventDays     float64
	eventStart    string
	eventPrompt   string
	eventNoPrompt bool
	resetYes      bool
)

var eventCmd = &cobra.Command{
	Use:   "event <command>",
	Short: "Manage events from the command line",
}

var eventCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an event",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		if eventStart != "" {
			t, err := time.Parse(time.RFC3339, eventStart)
			if err != nil {
				return fmt.Errorf("--start must be RFC 3339: %w", err)
			}
			start = t
		}
		duration := cfg.Events.DefaultDuration
		if cmd.Flags().Changed("days") {
			d, err := models.EventDuration(eventDays)
			if err != nil {
				return fmt.Errorf("--days: %w", err)
			}
			duration = d
		}

		if start.After(time.Now()) && !eventNoPrompt {
			return fmt.Errorf("prompts are sent when an event is created; use --no-prompt with a future --start")
		}

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		var prompt *models.Prompt
		if !eventNoPrompt {
			prompt, err = a.announcer.Resolve(ctx, eventPrompt)
			if errors.Is(err, prompts.ErrNoPrompt) {
				fmt.Println("No unused prompt in the library; creating the event without one.")
			} else if err != nil {
				return fmt.Errorf("resolve prompt: %w", err)
			}
		}

		e, err := a.store.CreateEvent(ctx, start, duration)
		if err != nil {
			return fmt.Errorf("create event: %w", err)
		}
		fmt.Printf("Created event %d: %s → %s\n", e.ID, e.StartTime.Format(time.RFC3339), e.EndTime().Format(time.RFC3339))
		if prompt == nil {
			return nil
		}

		announceCtx, cancel := context.WithTimeout(ctx, cfg.Server.WorkTimeout)
		defer cancel()
		report, err := a.announcer.Announce(announceCtx, e, prompt)
		if err != nil {
			return fmt.Errorf("announce prompt %d: %w", prompt.ID, err)
		}
		fmt.Printf("Prompt #%d sent to %d user(s) in the %s, %d failed\n", report.PromptID, report.Sent, report.Audience, report.Failed)
		return nil
	},
}

var eventListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		events, err := store.ListEvents(ctx)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No events.")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTART\tEND\tSTATE\tRESPONSES")
		for _, e := range events {
			users, err := store.GetEventUserIDs(ctx, e.ID)
			if err != nil {
				return fmt.Errorf("count responses for event %d: %w", e.ID, err)
			}
			state := "scheduled"
			switch {
			case e.IsFinalized:
				state = "finalized"
			case e.IsActiveAt(now):
				state = "active"
			case e.HasEndedAt(now):
				state = "ended"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", e.ID,
				e.StartTime.Format(time.RFC3339), e.EndTime().Format(time.RFC3339), state, len(users))
		}
		return w.Flush()
	},
}

var eventFinalizeCmd = &cobra.Command{
	Use:   "finalize <id>",
	Short: "Group an event's responders and create their channels now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.WorkTimeout)
		defer cancel()
		summary, err := a.scheduler.FinalizeNow(ctx, id)
		if err != nil {
			return fmt.Errorf("finalize event %d: %w", id, err)
		}
		fmt.Println(grouping.FormatSummary(summary))
		for _, ch := range summary.ChannelsCreated {
			fmt.Printf("  channel %s\n", ch)
		}
		return nil
	},
}

var eventDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an event and its responses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		store, err := openStorage(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteEvent(cmd.Context(), id); err != nil {
			return fmt.Errorf("delete event %d: %w", id, err)
		}
		fmt.Printf("Deleted event %d\n", id)
		return nil
	},
}

var eventResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every event and response",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return fmt.Errorf("refusing to delete all events without --yes")
		}

		store, err := openStorage(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.DeleteAllEvents(cmd.Context())
		if err != nil {
			return fmt.Errorf("reset events: %w", err)
		}
		fmt.Printf("Deleted %d event(s)\n", n)
		return nil
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event id %q", s)
	}
	return id, nil
}

func init() {
	eventCreateCmd.Flags().Float64Var(&eventDays, "days", 7, "event length in days (default events.default_duration)")
	eventCreateCmd.Flags().StringVar(&eventStart, "start", "", "start time in RFC 3339 (default now)")
	eventCreateCmd.Flags().StringVar(&eventPrompt, "prompt", "", "prompt text or #<id> to DM to the audience (default an unused prompt)")
	eventCreateCmd.Flags().BoolVar(&eventNoPrompt, "no-prompt", false, "create the event without sending a prompt")
	eventResetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm deleting all events")

	eventCmd.AddCommand(eventCreateCmd)
	eventCmd.AddCommand(eventListCmd)
	eventCmd.AddCommand(eventFinalizeCmd)
	eventCmd.AddCommand(eventDeleteCmd)
	eventCmd.AddCommand(eventResetCmd)
}
