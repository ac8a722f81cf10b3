package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trunkgate/internal/config"
	"trunkgate/internal/coverage"
	"trunkgate/internal/engine"
	"trunkgate/internal/event"
	"trunkgate/internal/gate"
	"trunkgate/internal/journal"
	"trunkgate/internal/logging"
	"trunkgate/internal/output"
	"trunkgate/internal/run"
	"trunkgate/internal/spec"
	"trunkgate/internal/tui"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline run for a simulated trigger event",
		RunE:  runExecute,
	}
	flags := cmd.Flags()
	flags.String("event", "push", "trigger event kind (push|pull_request)")
	flags.String("branch", "", "target branch (defaults to the trunk branch)")
	flags.Int("pr", 0, "pull request number for pull_request events")
	flags.String("author", "", "pull request author login")
	flags.String("sha", "", "head commit SHA")
	flags.Bool("live", false, "render a live dashboard while the run executes")
	flags.Bool("warn-runtime", false, "probe stage runtimes and warn on version drift")
	return cmd
}

func runExecute(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := loadPipelines(root, cfg)
	if err != nil {
		return err
	}

	filtered, err := applyFilters(data, cfg)
	if err != nil {
		return err
	}
	if len(filtered.definitions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching stages or steps")
		return nil
	}
	def := filtered.definitions[0]
	if len(filtered.definitions) > 1 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d pipelines matched; running %q\n", len(filtered.definitions), def.Name)
	}

	ev, err := eventFromFlags(cmd, cfg)
	if err != nil {
		return err
	}

	live, err := cmd.Flags().GetBool("live")
	if err != nil {
		return fmt.Errorf("parse --live: %w", err)
	}
	warnRuntime, err := cmd.Flags().GetBool("warn-runtime")
	if err != nil {
		return fmt.Errorf("parse --warn-runtime: %w", err)
	}

	secrets := config.LoadSecrets()

	jrn, err := journal.Open(journalPath(root, cfg))
	if err != nil {
		return err
	}

	logger, err := logging.New(root)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.Redact(secrets.Values())

	engOpts := engine.Options{
		Root:        root,
		Secrets:     secrets.Values(),
		Bot:         cfg.Bot,
		TailLines:   20,
		Verbose:     cfg.Verbose && !live,
		DryRun:      cfg.DryRun,
		WarnRuntime: warnRuntime,
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
		Journal:     jrn,
		Log:         logger,
	}
	if cfg.CoverageURL != "" {
		engOpts.Uploader = coverage.NewHTTPUploader(cfg.CoverageURL, secrets.CoverageToken)
	}
	if cfg.MergeURL != "" {
		engOpts.Merger = gate.NewHTTPMerger(cfg.MergeURL, secrets.MergeToken)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result *runResult
	if live {
		result, err = executeLive(ctx, engOpts, def, ev)
	} else {
		eng := engine.New(engOpts)
		r, execErr := eng.Execute(ctx, def, ev)
		result, err = &runResult{run: r}, execErr
	}
	if err != nil {
		return err
	}
	if result.run == nil {
		return nil
	}

	warnings := collapseWarnings(filtered.warnings)

	switch strings.ToLower(cfg.Format) {
	case config.FormatPretty:
		renderer := output.NewPretty(cmd.OutOrStdout())
		if err := renderer.RenderRun(result.run); err != nil {
			return err
		}
		for _, msg := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
		}
	case config.FormatJSON:
		renderer := output.NewJSON(cmd.OutOrStdout())
		if err := renderer.Render(output.Report{Run: result.run, Warnings: warnings}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}

	if result.run.Summary.ExitCode != 0 {
		return fmt.Errorf("one or more required stages failed")
	}
	return nil
}

type runResult struct {
	run *run.Run
}

// executeLive runs the engine in the background and drives the bubbletea
// dashboard from its progress events.
func executeLive(ctx context.Context, opts engine.Options, def spec.Definition, ev event.Event) (*runResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := make(chan engine.Progress, 64)
	opts.Notify = func(p engine.Progress) {
		select {
		case progress <- p:
		case <-time.After(time.Second):
		}
	}

	eng := engine.New(opts)

	type outcome struct {
		run *run.Run
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := eng.Execute(ctx, def, ev)
		close(progress)
		done <- outcome{run: r, err: err}
	}()

	if err := tui.Run(def, progress, cancel); err != nil {
		cancel()
		<-done
		return nil, err
	}

	o := <-done
	if o.err != nil {
		return nil, o.err
	}
	return &runResult{run: o.run}, nil
}

func eventFromFlags(cmd *cobra.Command, cfg config.Config) (event.Event, error) {
	flags := cmd.Flags()

	kind, err := flags.GetString("event")
	if err != nil {
		return event.Event{}, fmt.Errorf("parse --event: %w", err)
	}
	branch, err := flags.GetString("branch")
	if err != nil {
		return event.Event{}, fmt.Errorf("parse --branch: %w", err)
	}
	number, err := flags.GetInt("pr")
	if err != nil {
		return event.Event{}, fmt.Errorf("parse --pr: %w", err)
	}
	author, err := flags.GetString("author")
	if err != nil {
		return event.Event{}, fmt.Errorf("parse --author: %w", err)
	}
	sha, err := flags.GetString("sha")
	if err != nil {
		return event.Event{}, fmt.Errorf("parse --sha: %w", err)
	}

	if branch == "" {
		branch = cfg.Trunk
	}
	ev := event.Event{
		Kind:       event.Kind(kind),
		Branch:     branch,
		HeadSHA:    sha,
		Number:     number,
		Author:     author,
		ReceivedAt: time.Now(),
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

func journalPath(root string, cfg config.Config) string {
	if filepath.IsAbs(cfg.Journal) {
		return cfg.Journal
	}
	return filepath.Join(root, cfg.Journal)
}
