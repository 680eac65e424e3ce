// Command researchflow runs the competitive research workflow.
//
// Usage:
//
//	researchflow -product "A note-taking app with offline sync" -competitors "Notion,Obsidian"
//	researchflow -thread 0190c2... -resume
//	researchflow -thread 0190c2... -history
//
// Settings come from a YAML file (-config), STEPGRAPH_* environment
// variables and a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/randalmurphal/stepgraph/internal/research"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/checkpoint"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/config"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
)

// options are the parsed command line.
type options struct {
	configPath  string
	thread      string
	product     string
	competitors []string
	resume      bool
	history     bool
	maxFeatures int
}

var errUsage = errors.New("usage")

func parseFlags(args []string, output io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("researchflow", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&o.configPath, "config", "stepgraph.yaml", "Path to the YAML config file.")
	fs.StringVar(&o.thread, "thread", "", "Checkpoint thread ID. Generated for new runs when empty.")
	fs.StringVar(&o.product, "product", "", "Product description to research.")
	productFile := fs.String("product-file", "", "Read the product description from a file.")
	competitors := fs.String("competitors", "", "Comma-separated competitor names.")
	fs.BoolVar(&o.resume, "resume", false, "Resume the thread from its latest checkpoint.")
	fs.BoolVar(&o.history, "history", false, "Print the thread's checkpoint history and exit.")
	fs.IntVar(&o.maxFeatures, "max-features", research.DefaultMaxFeatures, "Maximum number of features to research.")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if *productFile != "" {
		data, err := os.ReadFile(*productFile)
		if err != nil {
			return o, fmt.Errorf("read product file: %w", err)
		}
		o.product = string(data)
	}
	o.competitors = splitList(*competitors)

	switch {
	case (o.resume || o.history) && o.thread == "":
		fmt.Fprintln(output, "-resume and -history require -thread")
		return o, errUsage
	case !o.resume && !o.history && strings.TrimSpace(o.product) == "":
		fmt.Fprintln(output, "a product description is required (-product or -product-file)")
		fs.Usage()
		return o, errUsage
	}
	return o, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "researchflow:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(stderr)

	var done closers
	defer func() {
		if err := done.Close(); err != nil {
			logger.Warn("shutdown failed", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	done.add(store.Close)

	workflow, err := research.New(research.Options{
		MaxFeatures: opts.maxFeatures,
		CacheTTL:    cfg.Cache.TTL,
	})
	if err != nil {
		return err
	}

	if opts.history {
		return printHistory(ctx, stdout, workflow, store, opts.thread)
	}

	model, err := llm.Open(ctx, cfg.Model)
	if err != nil {
		return err
	}
	resultCache, err := openCache(ctx, cfg.Cache, cfg.Model, &done)
	if err != nil {
		return err
	}
	notifier, err := openNotifier(ctx, cfg.Notify, logger, &done)
	if err != nil {
		return err
	}

	tel := setupTelemetry(logger, cfg.Engine.Metrics, cfg.Engine.Tracing)
	defer tel.Shutdown(context.WithoutCancel(ctx))

	thread := opts.thread
	if thread == "" {
		thread = uuid.Must(uuid.NewV7()).String()
	}
	logger.Info("research thread", "thread_id", thread, "resume", opts.resume)

	runOpts := []stepgraph.RunOption{
		stepgraph.WithCheckpointing(store),
		stepgraph.WithThreadID(thread),
		stepgraph.WithMaxSteps(cfg.Engine.MaxSteps),
		stepgraph.WithObservabilityLogger(logger),
		stepgraph.WithMetrics(cfg.Engine.Metrics),
		stepgraph.WithTracing(cfg.Engine.Tracing),
	}
	if resultCache != nil {
		runOpts = append(runOpts, stepgraph.WithCache(resultCache))
	}

	sgCtx := stepgraph.NewContext(ctx,
		stepgraph.WithLogger(logger),
		stepgraph.WithModel(model),
		stepgraph.WithNotifier(notifier),
	)

	start := time.Now()
	var result stepgraph.State
	if opts.resume {
		result, err = workflow.Graph().Resume(sgCtx, runOpts...)
	} else {
		result, err = workflow.Run(sgCtx, opts.product, opts.competitors, runOpts...)
	}

	var interrupt *stepgraph.WorkflowInterrupt
	if errors.As(err, &interrupt) {
		fmt.Fprintf(stderr, "run interrupted at %s: %s\nresume with: researchflow -thread %s -resume\n",
			interrupt.NodeID, interrupt.Message, thread)
		return err
	}
	if err != nil {
		return err
	}

	logger.Info("research finished", "thread_id", thread, "duration", time.Since(start).Round(time.Millisecond))
	fmt.Fprint(stdout, research.Draft(result))
	return nil
}

func printHistory(ctx context.Context, w io.Writer, workflow *research.Workflow, store checkpoint.Store, thread string) error {
	snaps, err := workflow.Graph().History(ctx, store, thread, "", checkpoint.ListOptions{})
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return fmt.Errorf("%w: %s", stepgraph.ErrNoCheckpoints, thread)
	}
	// Oldest first reads like a log.
	for i := len(snaps) - 1; i >= 0; i-- {
		cp := snaps[i].Checkpoint
		meta := cp.Metadata
		line := fmt.Sprintf("%s  step=%-3d %-9s node=%-16s next=%s",
			cp.CreatedAt.Format(time.RFC3339), meta.Step, meta.Source, meta.Node, meta.Next)
		if meta.CacheHit {
			line += "  (cached)"
		}
		if meta.Error != "" {
			line += "  error=" + meta.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
