package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gosyncprogress/internal/cli"
	"gosyncprogress/internal/progress"
	progresssync "gosyncprogress/internal/sync"
	"gosyncprogress/internal/utils"

	"github.com/spf13/cobra"
)

type enqueueOptions struct {
	course    string
	module    string
	lesson    string
	percent   int
	completed bool
	seconds   int64
	score     float64
	answers   []string
	priority  string
	wait      bool
	noFlush   bool
	output    string
}

func newEnqueueCmd(app *App) *cobra.Command {
	opts := &enqueueOptions{}

	cmd := &cobra.Command{
		Use:   "enqueue <action>",
		Short: "Record a progress change",
		Long: `Record a progress change in the local queue.

The event is stored on disk first and then delivered in the background, so
the command returns immediately even when offline.

Actions: lesson_progress, lesson_complete, module_complete, course_complete,
quiz_submit, time_spent

Examples:
  gosyncprogress enqueue lesson_progress --course go101 --module m1 --lesson l3 --percent 40
  gosyncprogress enqueue lesson_complete --course go101 --module m1 --lesson l3
  gosyncprogress enqueue time_spent --course go101 --lesson l3 --seconds 90
  gosyncprogress enqueue quiz_submit --course go101 --lesson quiz1 --score 8.5 -a q1=b -a q2=d --wait`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: cli.ActionCompletion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, app, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.course, "course", "", "course id (required)")
	cmd.Flags().StringVar(&opts.module, "module", "", "module id")
	cmd.Flags().StringVar(&opts.lesson, "lesson", "", "lesson id")
	cmd.Flags().IntVar(&opts.percent, "percent", 0, "lesson progress percentage (0-100)")
	cmd.Flags().BoolVar(&opts.completed, "completed", false, "mark the entity completed")
	cmd.Flags().Int64Var(&opts.seconds, "seconds", 0, "time spent in seconds since the last report")
	cmd.Flags().Float64Var(&opts.score, "score", 0, "quiz score")
	cmd.Flags().StringArrayVarP(&opts.answers, "answer", "a", nil, "quiz answer as question=answer (repeatable)")
	cmd.Flags().StringVar(&opts.priority, "priority", "", "override priority: low, normal or high")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "flush in the foreground and wait for the result")
	cmd.Flags().BoolVar(&opts.noFlush, "no-flush", false, "only queue, do not start a background flush")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json or yaml")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.RegisterFlagCompletionFunc("priority", cli.PriorityCompletion)

	return cmd
}

// buildEvent turns command-line flags into a new event
func buildEvent(cmd *cobra.Command, opts *enqueueOptions, actionArg string, now time.Time) (progress.Event, error) {
	action, err := progress.ParseAction(actionArg)
	if err != nil {
		valid := make([]string, 0, len(progress.AllActions()))
		for _, a := range progress.AllActions() {
			valid = append(valid, string(a))
		}
		return progress.Event{}, utils.ErrInvalidAction(actionArg, valid)
	}

	if cmd.Flags().Changed("percent") {
		if err := utils.ValidatePercent(opts.percent); err != nil {
			return progress.Event{}, err
		}
	}
	answers, err := utils.ParseAnswers(opts.answers)
	if err != nil {
		return progress.Event{}, err
	}

	payload := progress.Payload{
		Percent:          opts.percent,
		Completed:        opts.completed,
		TimeSpentSeconds: opts.seconds,
		Answers:          answers,
	}
	if cmd.Flags().Changed("score") {
		score := opts.score
		payload.Score = &score
	}

	key := progress.EntityKey{
		CourseID: strings.TrimSpace(opts.course),
		ModuleID: strings.TrimSpace(opts.module),
		LessonID: strings.TrimSpace(opts.lesson),
	}
	e := progress.NewEvent(action, key, payload, now)

	if opts.priority != "" {
		p, err := progress.ParsePriority(opts.priority)
		if err != nil {
			return progress.Event{}, err
		}
		e.Priority = p
	}
	return e, nil
}

func runEnqueue(cmd *cobra.Command, app *App, opts *enqueueOptions, actionArg string) error {
	format, err := utils.ParseOutputFormat(opts.output)
	if err != nil {
		return err
	}
	e, err := buildEvent(cmd, opts, actionArg, time.Now())
	if err != nil {
		return err
	}

	eng, err := app.newEngine()
	if err != nil {
		return err
	}
	defer eng.stop(app.logger)

	ctx := cmd.Context()
	stored, err := eng.orch.Enqueue(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to queue event: %w", err)
	}

	if stored.Status == progress.StatusDead {
		return utils.WrapWithSuggestion(
			fmt.Errorf("event %s rejected: %s", stored.ID, stored.LastError),
			"Fix the flags and enqueue again; the rejected event is listed by 'gosyncprogress queue list --status dead'")
	}

	switch {
	case !app.remoteConfigured():
		app.logger.Warn("No progress server configured; the event stays queued")
	case opts.wait:
		if err := eng.start(ctx); err != nil {
			return err
		}
		if !eng.monitor.IsOnline() {
			fmt.Fprintln(os.Stderr, "⚠ Offline: the event is queued and will be sent when the connection returns")
			break
		}
		if err := eng.orch.FlushQueue(ctx); errors.Is(err, progresssync.ErrFlushBusy) {
			fmt.Fprintln(os.Stderr, "⚠ Another process is sending queued progress; the event stays queued for it or the next flush")
		} else if err != nil {
			return err
		}
	case !opts.noFlush:
		if err := progresssync.SpawnBackgroundFlush(app.forwardedArgs()...); err != nil {
			app.logger.Debug("Background flush not started: %v", err)
		}
	}

	switch format {
	case utils.OutputJSONFormat:
		return utils.OutputJSON(stored)
	case utils.OutputYAMLFormat:
		return utils.OutputYAML(stored)
	}

	fmt.Printf("✓ Queued %s for %s (%s, %s priority)\n", stored.Action, stored.EntityKey, stored.ID, stored.Priority)
	if opts.wait && app.remoteConfigured() {
		counts, err := eng.store.Counts(ctx)
		if err != nil {
			return err
		}
		if counts.Total() == 0 {
			fmt.Println("✓ All progress saved")
		} else {
			fmt.Printf("  %d changes still queued; see 'gosyncprogress status'\n", counts.Total())
		}
	}
	return nil
}
