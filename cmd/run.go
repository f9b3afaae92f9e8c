package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"allinone/internal/blobref"
	"allinone/internal/intake"
	"allinone/internal/logging"
	"allinone/internal/staged"
	"allinone/internal/tools"
	"allinone/internal/tui"
)

var (
	runSet        []string
	runOutputDir  string
	runNoProgress bool
	runJobs       int
	runNoDelay    bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <tool> <path>...",
	Short: "Run a tool over files or directories",
	Long: "Run a tool over files or directories. Tools that take several files (pdf-merge) " +
		"receive all inputs in one run; the others process each input separately.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tool, ok := registry.Lookup(args[0])
		if !ok {
			return fmt.Errorf("unknown tool %q (see 'allinone list')", args[0])
		}
		params, err := tools.ParseParams(runSet)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("jobs") {
			cfg.Processing.Jobs = runJobs
		}
		if runNoDelay {
			cfg.Processing.NoDelay = true
		}
		if cfg.Processing.Jobs < 1 {
			return fmt.Errorf("--jobs must be at least 1")
		}

		var sources []intake.Source
		for _, path := range args[1:] {
			found, err := intake.Collect(path, tool.Accept, outputDir())
			if err != nil {
				return err
			}
			sources = append(sources, found...)
		}
		if len(sources) == 0 {
			return fmt.Errorf("no files accepted by %s", tool.ID)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var logs *tui.LogWriter
		if !runNoProgress {
			logs = &tui.LogWriter{Fallback: os.Stderr}
			logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: logs})
		}

		handles := blobref.NewRegistry()
		jobs, err := newRunJobs(ctx, tool, handles, sources)
		if err != nil {
			return err
		}
		return executeJobs(ctx, tool, jobs, params, &blobref.FileSaver{Registry: handles, Dir: outputDir()}, logs)
	},
}

type runJob struct {
	name    string
	session *tools.Session
	path    string
	err     error
}

// newRunJobs admits sources into sessions: one per source, or a single one for
// tools that take several files. A source that cannot be admitted yields a
// job carrying the error; the rest of the batch still runs.
func newRunJobs(ctx context.Context, tool *tools.Tool, handles *blobref.Registry, sources []intake.Source) ([]*runJob, error) {
	tr, err := tracker()
	if err != nil {
		return nil, err
	}
	env := toolEnv()

	sc := cfg.StagedConfig(tool.Stages)
	sc.Tracker = tr
	sc.Logger = &logger

	var groups [][]intake.Source
	if tool.Multiple {
		groups = [][]intake.Source{sources}
	} else {
		for _, src := range sources {
			groups = append(groups, []intake.Source{src})
		}
	}

	jobs := make([]*runJob, 0, len(groups))
	taken := make(map[string]bool, len(groups))
	for _, group := range groups {
		session, err := tools.NewSession(tool, env, handles, tools.SessionConfig{
			Staged: sc,
			Admit:  cfg.AdmitConfig(tool.Multiple),
		})
		if err != nil {
			return nil, err
		}
		name := group[0].Name()
		if len(group) > 1 {
			name = fmt.Sprintf("%d files", len(group))
		}
		job := &runJob{name: uniqueName(taken, name), session: session}
		if err := session.Admit(ctx, group); err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("skipping file")
			job.err = err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// uniqueName keeps progress rows apart when two inputs share a display name.
func uniqueName(taken map[string]bool, name string) string {
	candidate := name
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s (%d)", name, n)
	}
	taken[candidate] = true
	return candidate
}

// executeJobs processes and saves the admitted jobs. While the progress view
// runs, log output written to logs is printed above it.
func executeJobs(ctx context.Context, tool *tools.Tool, jobs []*runJob, params tools.Params, saver *blobref.FileSaver, logs *tui.LogWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var updates chan tui.Update
	uiDone := make(chan struct{})

	if runNoProgress {
		close(uiDone)
	} else {
		names := make([]string, len(jobs))
		for i, j := range jobs {
			names[i] = j.name
		}
		updates = make(chan tui.Update, 64)
		program := tea.NewProgram(tui.NewModel("allinone · "+tool.Title, names, updates, cancel))
		if logs != nil {
			logs.Attach(program)
		}
		go func() {
			defer close(uiDone)
			_, _ = program.Run()
		}()
	}

	var unsubscribes []func()
	var g errgroup.Group
	g.SetLimit(cfg.Processing.Jobs)
	for _, j := range jobs {
		if j.err != nil {
			if updates != nil {
				select {
				case updates <- tui.Update{Job: j.name, Snapshot: staged.Snapshot{Stage: staged.Error, Message: j.err.Error()}}:
				case <-uiDone:
				}
			}
			continue
		}
		if updates != nil {
			name := j.name
			unsubscribes = append(unsubscribes, j.session.Controller.Subscribe(func(s staged.Snapshot) {
				select {
				case updates <- tui.Update{Job: name, Snapshot: s}:
				case <-uiDone:
				}
			}))
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				j.err = staged.ErrAborted
				return nil
			}
			if _, err := j.session.Process(ctx, params); err != nil {
				j.err = err
				return nil
			}
			j.path, j.err = j.session.Download(ctx, saver)
			return nil
		})
	}
	_ = g.Wait()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	if updates != nil {
		close(updates)
	}
	<-uiDone
	if logs != nil {
		logs.Detach()
	}

	return report(jobs)
}

func report(jobs []*runJob) error {
	var failed, aborted int
	var inBytes, outBytes int64
	for _, j := range jobs {
		for _, f := range j.session.Store.Files() {
			inBytes += f.Size
		}
		switch {
		case errors.Is(j.err, staged.ErrAborted):
			aborted++
			fmt.Fprintln(os.Stdout, tui.RenderOutcome(j.name, "", errors.New("cancelled")))
		case j.err != nil:
			failed++
			fmt.Fprintln(os.Stdout, tui.RenderOutcome(j.name, "", j.err))
		default:
			if r := j.session.Store.Result(); r != nil {
				outBytes += r.Blob.Size()
			}
			fmt.Fprintln(os.Stdout, tui.RenderOutcome(j.name, "-> "+j.path, nil))
		}
		j.session.Reset()
	}

	dir := outputDir()
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	rows := []tui.SummaryRow{
		{Label: "Files processed", Value: fmt.Sprintf("%d", len(jobs)-failed-aborted)},
		{Label: "Failed", Value: fmt.Sprintf("%d", failed)},
		{Label: "Input size (bytes)", Value: fmt.Sprintf("%d", inBytes)},
		{Label: "Output size (bytes)", Value: fmt.Sprintf("%d", outBytes)},
		{Label: "Output folder", Value: dir},
	}
	if aborted > 0 {
		rows = append(rows, tui.SummaryRow{Label: "Cancelled", Value: fmt.Sprintf("%d", aborted)})
	}
	fmt.Fprintln(os.Stdout, tui.RenderSummary(rows))

	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(jobs))
	}
	if aborted > 0 {
		return staged.ErrAborted
	}
	return nil
}

func outputDir() string {
	if runOutputDir == "" {
		return "allinone-out"
	}
	return runOutputDir
}

func init() {
	runCmd.Flags().StringArrayVarP(&runSet, "set", "s", nil, "tool option as key=value (repeatable)")
	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", "", "destination folder for results (default allinone-out)")
	runCmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "disable the interactive progress view")
	runCmd.Flags().IntVarP(&runJobs, "jobs", "j", 0, "number of files processed concurrently")
	runCmd.Flags().BoolVar(&runNoDelay, "no-delay", false, "skip the staged progress animation")

	rootCmd.AddCommand(runCmd)
}
