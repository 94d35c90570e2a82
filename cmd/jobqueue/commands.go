package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sky93/jobqueue"
)

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEnqueueCmd(a *app) *cobra.Command {
	var (
		input    string
		priority int
	)
	cmd := &cobra.Command{
		Use:   "enqueue <queue>",
		Short: "Add a job to a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(input)) {
				return fmt.Errorf("invalid job JSON: %s", input)
			}
			c, err := a.newClient(false)
			if err != nil {
				return err
			}

			q := c.Queue(args[0])
			defaults := a.cfg.Queue
			flags := cmd.Flags()
			attempts, _ := flags.GetInt("attempts")
			delay, _ := flags.GetDuration("delay")
			ttl, _ := flags.GetDuration("ttl")
			removeOnComplete, _ := flags.GetBool("remove-on-complete")
			noFailure, _ := flags.GetBool("no-failure")
			if !flags.Changed("attempts") {
				attempts = defaults.Attempts
			}
			if !flags.Changed("delay") {
				delay = defaults.Delay
			}
			if !flags.Changed("ttl") {
				ttl = defaults.TTL
			}
			if !flags.Changed("remove-on-complete") {
				removeOnComplete = defaults.RemoveOnComplete
			}
			if !flags.Changed("no-failure") {
				noFailure = defaults.NoFailure
			}
			q.SetAttempts(attempts)
			q.SetDelay(delay)
			q.SetTTL(ttl)
			q.SetRemoveOnCompletion(removeOnComplete)
			q.SetNoFailure(noFailure)

			id, err := q.AddJob(cmd.Context(), json.RawMessage(input), priority)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d enqueued on %s.\n", id, q.Name())
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "{}", "job input as JSON")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "job priority, higher is served first")
	cmd.Flags().Int("attempts", 1, "attempts before the job fails")
	cmd.Flags().Duration("delay", 0, "delay before the job becomes eligible")
	cmd.Flags().Duration("ttl", 0, "maximum time the job may stay active")
	cmd.Flags().Bool("remove-on-complete", false, "purge the job once it completes")
	cmd.Flags().Bool("no-failure", false, "mark the job complete even when it fails")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			c, err := a.newClient(false)
			if err != nil {
				return err
			}
			detail, err := c.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, detail)
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <queue>",
		Short: "Count the jobs of a queue per state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient(false)
			if err != nil {
				return err
			}
			q := c.Queue(args[0])
			counts := make(map[jobqueue.State]int64, len(jobqueue.States))
			for _, state := range jobqueue.States {
				n, err := q.Count(cmd.Context(), state)
				if err != nil {
					return err
				}
				counts[state] = n
			}
			return printJSON(cmd, counts)
		},
	}
}

func newProcessCmd(a *app) *cobra.Command {
	var (
		kind string
		id   int64
	)
	cmd := &cobra.Command{
		Use:   "process <queue>",
		Short: "Process a single job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := processorFor(kind)
			if err != nil {
				return err
			}
			c, err := a.newClient(false)
			if err != nil {
				return err
			}

			var detail *jobqueue.JobDetail
			if id > 0 {
				detail, err = c.ProcessJobByID(cmd.Context(), id, fn)
			} else {
				detail, err = c.Queue(args[0]).ProcessJob(cmd.Context(), fn)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, detail)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", kindShell, "processor kind: shell or webhook")
	cmd.Flags().Int64Var(&id, "id", 0, "process this job instead of the next inactive one")
	return cmd
}

func newWorkCmd(a *app) *cobra.Command {
	var (
		kind        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "work <queue>",
		Short: "Process jobs until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := processorFor(kind)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = a.cfg.Queue.Concurrency
			}
			c, err := a.newClient(true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q := c.Queue(args[0])
			// jobs claimed by a process that crashed before resolving them
			if err := q.Cleanup(ctx, a.cfg.Watchdog.StuckAfter); err != nil {
				a.logger.WithError(err).Warn("startup cleanup failed")
			}
			if err := q.AddProcessor(fn, concurrency); err != nil {
				return err
			}
			a.logger.Infof("Processing %s with %d workers. Press Ctrl+C to shut down gracefully.", q.Name(), concurrency)

			<-ctx.Done()
			a.logger.Info("Shutting down...")
			if !c.Exit(a.cfg.Shutdown.Timeout) {
				a.logger.Warn("some jobs were still running at exit")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", kindShell, "processor kind: shell or webhook")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 1, "number of jobs processed in parallel")
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup <queue>",
		Short: "Move jobs stuck in active back to inactive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient(false)
			if err != nil {
				return err
			}
			return c.Queue(args[0]).Cleanup(cmd.Context(), olderThan)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "minimum time spent active")
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge <queue>",
		Short: "Delete jobs of every state created before a cutoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient(false)
			if err != nil {
				return err
			}
			return c.Queue(args[0]).Delete(cmd.Context(), olderThan)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "minimum job age")
	return cmd
}
