package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/chazu/cagebake/pkg/cage"
	"github.com/chazu/cagebake/pkg/config"
	"github.com/chazu/cagebake/pkg/runner"
	"github.com/samber/lo"
	"golang.org/x/term"
)

const HelpBanner = `cagebake builds baking cages: inflated, non-self-intersecting envelopes
around a low-poly base mesh that also enclose a high-poly reference mesh.

Usage:
    cagebake -reference high.obj -base low.obj [-out cage.obj] [flags]
    cagebake -script jobs.lisp [flags]
    cagebake -check mesh.obj...

Flags:
`

// Exit codes.
const (
	exitFailure          = 1
	exitSelfIntersection = 2
)

// cliFlags holds the command line flags. Construction flags only override
// the configuration file when given explicitly.
type cliFlags struct {
	fs *flag.FlagSet

	script     *string
	reference  *string
	base       *string
	out        *string
	configPath *string
	kernel     *string

	padding       *float64
	maxIterations *int
	stall         *string
	index         *string
	workers       *int
	timeout       *time.Duration
	dir           *string
	verify        *bool
	dryRun        *bool
	skipExisting  *bool
	check         *bool
	quiet         *bool
}

func newFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		fs:            fs,
		script:        fs.String("script", "", "Job script"),
		reference:     fs.String("reference", "", "Reference (high detail) mesh"),
		base:          fs.String("base", "", "Base (low detail) mesh"),
		out:           fs.String("out", "", "Cage output path (default <base>_cage.obj)"),
		configPath:    fs.String("config", "", "YAML configuration file"),
		kernel:        fs.String("kernel", config.KernelSdfx, "Geometry kernel for procedural sources: sdfx or manifold"),
		padding:       fs.Float64("padding", cage.DefaultPadding, "Clearance added on every displacement; 0 means the default"),
		maxIterations: fs.Int("max-iterations", cage.DefaultMaxIterations, "Resolver iteration limit"),
		stall:         fs.String("stall", "count", "Stall policy: count or pairs"),
		index:         fs.String("index", "bvh", "Spatial index: bvh or rtree"),
		workers:       fs.Int("conc", runtime.NumCPU(), "Number of jobs to run concurrently"),
		timeout:       fs.Duration("timeout", config.DefaultJobTimeout, "Time limit per job"),
		dir:           fs.String("dir", "", "Directory for relative script paths"),
		verify:        fs.Bool("verify", false, "Re-check finished cages and report warnings"),
		dryRun:        fs.Bool("dry-run", false, "Build cages without writing them"),
		skipExisting:  fs.Bool("skip-existing", false, "Skip jobs whose cage file already exists"),
		check:         fs.Bool("check", false, "Only test the given meshes for self-intersection"),
		quiet:         fs.Bool("q", false, "Suppress progress output"),
	}
}

// settings loads the configuration file, if any, and applies the flags
// that were set on the command line.
func (c *cliFlags) settings() (*config.File, error) {
	f := config.Default()
	if *c.configPath != "" {
		var err error
		if f, err = config.Load(*c.configPath); err != nil {
			return nil, err
		}
	}

	var err error
	c.fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "kernel":
			f.Kernel = *c.kernel
		case "padding":
			f.Cage.Padding = *c.padding
		case "max-iterations":
			f.Cage.MaxIterations = *c.maxIterations
		case "stall":
			f.Cage.Stall, err = cage.ParseStallPolicy(*c.stall)
		case "index":
			f.Cage.Index, err = cage.ParseIndexKind(*c.index)
		case "conc":
			f.Runner.Concurrency = *c.workers
		case "timeout":
			f.Runner.Timeout = *c.timeout
		case "dir":
			f.Runner.Dir = *c.dir
		case "verify":
			f.Cage.Verify = *c.verify
		case "skip-existing":
			f.Runner.SkipExisting = *c.skipExisting
		}
	})
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func main() {
	log.SetFlags(0)

	flags := newFlags(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, HelpBanner)
		flag.PrintDefaults()
	}
	flag.Parse()

	os.Exit(run(flags, flag.Args(), os.Stdout))
}

func run(flags *cliFlags, args []string, stdout *os.File) int {
	cfg, err := flags.settings()
	if err != nil {
		log.Printf("cagebake: %v", err)
		return exitFailure
	}

	var logger *log.Logger
	if !*flags.quiet {
		logger = log.New(os.Stderr, "", 0)
	}
	app, err := NewApp(cfg, logger)
	if err != nil {
		log.Printf("cagebake: %v", err)
		return exitFailure
	}
	app.runner.DryRun = *flags.dryRun

	if *flags.check {
		return checkMeshes(app, append(lo.Compact([]string{*flags.reference, *flags.base}), args...))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var results []runner.JobResult
	switch {
	case *flags.script != "":
		source, err := os.ReadFile(*flags.script)
		if err != nil {
			log.Printf("cagebake: %v", err)
			return exitFailure
		}
		if cfg.Runner.Dir == "" {
			app.runner.Dir = filepath.Dir(*flags.script)
		}
		var ev EvalResult
		ev, results = app.Run(ctx, string(source))
		if len(ev.Errors) > 0 {
			for _, d := range ev.Errors {
				log.Printf("%s: %s", *flags.script, d)
			}
			return exitFailure
		}
	default:
		p, err := SingleJob(absPath(*flags.reference), absPath(*flags.base), absPath(*flags.out))
		if err != nil {
			log.Printf("cagebake: %v", err)
			flag.Usage()
			return exitFailure
		}
		results = app.RunPlan(ctx, p)
	}

	printSummary(stdout, results, term.IsTerminal(int(stdout.Fd())))
	return exitCode(results)
}

// checkMeshes prints one verdict per mesh and exits with
// exitSelfIntersection if any mesh intersects itself.
func checkMeshes(app *App, paths []string) int {
	if len(paths) == 0 {
		log.Printf("cagebake: -check needs at least one mesh")
		return exitFailure
	}
	code := 0
	for _, p := range paths {
		bad, err := app.Check(p)
		switch {
		case err != nil:
			log.Printf("%s: %v", p, err)
			if code == 0 {
				code = exitFailure
			}
		case bad:
			log.Printf("%s: self-intersecting", p)
			code = exitSelfIntersection
		default:
			log.Printf("%s: ok", p)
		}
	}
	return code
}

// exitCode is 0 when every job succeeded, exitSelfIntersection when any
// job failed on a self-intersection check and exitFailure otherwise.
func exitCode(results []runner.JobResult) int {
	err := runner.Err(results)
	switch {
	case err == nil:
		return 0
	case cage.IsSelfIntersection(err):
		return exitSelfIntersection
	}
	return exitFailure
}

// printSummary writes one line per job. On a terminal the lines are
// aligned into a table with a header.
func printSummary(w io.Writer, results []runner.JobResult, table bool) {
	if len(results) == 0 {
		return
	}
	if table {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "JOB\tSTATUS\tITER\tRESIDUAL\tTIME\tOUTPUT")
		for _, r := range results {
			fmt.Fprintln(tw, summaryLine(r))
		}
		tw.Flush()
		return
	}
	for _, r := range results {
		fmt.Fprintln(w, summaryLine(r))
	}
}

func summaryLine(r runner.JobResult) string {
	elapsed := r.Elapsed.Round(time.Millisecond)
	if r.Skipped {
		return fmt.Sprintf("%s\tskipped\t-\t-\t%s\t%s", r.Job.Name, elapsed, r.Out)
	}
	if r.Err != nil {
		status := "failed"
		var cerr *cage.Error
		switch {
		case errors.Is(r.Err, runner.ErrTimeout):
			status = "timeout"
		case errors.As(r.Err, &cerr):
			status = "failed@" + cerr.State.String()
		}
		return fmt.Sprintf("%s\t%s\t-\t-\t%s\t%v", r.Job.Name, status, elapsed, r.Err)
	}

	res := r.Result.Report.Resolution
	status := "ok"
	if len(r.Result.Report.Warnings) > 0 {
		status = "warn"
	}
	out := r.Out
	if out == "" {
		out = "-"
	}
	return fmt.Sprintf("%s\t%s\t%d\t%d\t%s\t%s", r.Job.Name, status, res.Iterations, res.Residual, elapsed, out)
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
