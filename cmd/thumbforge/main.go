// Command thumbforge drives the derivative queue from the shell:
// sweep and build pending records, report the queue breakdown, or
// requeue failed builds.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/leeforge/thumbforge/builder"
	"github.com/leeforge/thumbforge/config"
	"github.com/leeforge/thumbforge/record"
	"github.com/leeforge/thumbforge/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "thumbforge: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	svc, err := service.New(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer svc.Close(ctx)

	switch args[0] {
	case "build":
		return runBuild(ctx, svc, args[1:])
	case "status":
		return runStatus(ctx, svc, args[1:])
	case "requeue":
		return runRequeue(ctx, svc, args[1:])
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: thumbforge <command> [flags]

commands:
  build     sweep the queue and build pending derivatives
  status    report the queue breakdown
  requeue   reset failed builds to queued`)
}

func runBuild(ctx context.Context, svc *service.Service, args []string) error {
	flags := pflag.NewFlagSet("build", pflag.ContinueOnError)
	workers := flags.Int("workers", svc.Config.Builder.Workers, "build parallelism")
	maxErrors := flags.Int("max-errors", svc.Config.Builder.MaxErrors, "skip records with more errors than this (-1 disables retries)")
	staleAfter := flags.Duration("stale-after", svc.Config.Builder.StaleAfter, "reclaim builds abandoned longer than this (0 disables)")
	limit := flags.Int("limit", svc.Config.Builder.Limit, "cap how many records one sweep attempts (0 means all)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	result, err := svc.Sweeper.ProcessQueue(ctx, builder.SweepConfig{
		MaxErrors:  *maxErrors,
		StaleAfter: *staleAfter,
		Limit:      *limit,
		Workers:    *workers,
	})
	if err != nil {
		return err
	}
	fmt.Printf("attempted %d: %d built, %d failed, %d skipped\n",
		result.Attempted, result.Built, result.Failed, result.Skipped)
	return nil
}

func runStatus(ctx context.Context, svc *service.Service, args []string) error {
	flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
	staleAfter := flags.Duration("stale-after", svc.Config.Builder.StaleAfter, "threshold for counting a building record as stale")
	if err := flags.Parse(args); err != nil {
		return err
	}

	stats, err := svc.Store.StatusCounts(ctx, *staleAfter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "queued\t%d\n", stats.Queued)
	fmt.Fprintf(w, "building\t%d\n", stats.Building)
	fmt.Fprintf(w, "  stale\t%d\n", stats.Stale)
	fmt.Fprintf(w, "built\t%d\n", stats.Built)
	fmt.Fprintf(w, "source errors\t%d\n", stats.SourceErrors)
	fmt.Fprintf(w, "build errors\t%d\n", stats.BuildErrors)
	if len(stats.ErrorDist) > 0 {
		counts := make([]int, 0, len(stats.ErrorDist))
		for n := range stats.ErrorDist {
			counts = append(counts, n)
		}
		sort.Ints(counts)
		for _, n := range counts {
			fmt.Fprintf(w, "  %d error(s)\t%d\n", n, stats.ErrorDist[n])
		}
	}
	return w.Flush()
}

func runRequeue(ctx context.Context, svc *service.Service, args []string) error {
	flags := pflag.NewFlagSet("requeue", pflag.ContinueOnError)
	maxErrors := flags.Int("max-errors", -1, "only requeue records with at most this many errors (-1 means all)")
	includeStale := flags.Bool("include-stale", false, "also requeue stale building records")
	staleAfter := flags.Duration("stale-after", svc.Config.Builder.StaleAfter, "staleness threshold for --include-stale")
	if err := flags.Parse(args); err != nil {
		return err
	}

	start := time.Now()
	n, err := svc.Store.Requeue(ctx, record.RequeueFilter{
		MaxErrors:    *maxErrors,
		IncludeStale: *includeStale,
		StaleAfter:   *staleAfter,
	})
	if err != nil {
		return err
	}
	fmt.Printf("requeued %d record(s) in %s\n", n, time.Since(start).Round(time.Millisecond))
	return nil
}
