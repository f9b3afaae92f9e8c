package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"allinone/internal/engine"
	"allinone/internal/engine/img"
	"allinone/internal/intake"
	"allinone/internal/tui"
	"allinone/pkg/sniff"
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Report privacy metadata in images without modifying them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := intake.Collect(args[0], []sniff.Kind{sniff.KindJPEG, sniff.KindPNG, sniff.KindTIFF}, "")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		reports, err := scanSources(ctx, sources, cfg.Processing.Jobs)
		if err != nil {
			return err
		}

		leaky, leaks, failed := 0, 0, 0
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(os.Stdout)
			}
			printReport(os.Stdout, r)
			switch {
			case r.err != nil:
				failed++
			case r.Leaks > 0:
				leaky++
				leaks += r.Leaks
			}
		}

		if len(reports) > 0 {
			fmt.Fprintln(os.Stdout)
		}
		fmt.Fprintln(os.Stdout, tui.RenderSummary([]tui.SummaryRow{
			{Label: "Files scanned", Value: fmt.Sprintf("%d", len(reports))},
			{Label: "Files with privacy leaks", Value: fmt.Sprintf("%d", leaky)},
			{Label: "Privacy leaks found", Value: fmt.Sprintf("%d", leaks)},
			{Label: "Unreadable files", Value: fmt.Sprintf("%d", failed)},
		}))
		if leaky > 0 {
			fmt.Fprintln(os.Stdout, scanDimStyle.Render("Run 'allinone run image-strip-metadata <path>' to remove them."))
		}
		return nil
	},
}

type scanResult struct {
	img.Report
	err error
}

// scanSources scans every source with at most jobs in flight. Results keep
// the order of sources.
func scanSources(ctx context.Context, sources []intake.Source, jobs int) ([]scanResult, error) {
	results := make([]scanResult, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, src := range sources {
		g.Go(func() error {
			results[i].Name = src.Name()
			data, err := readSource(src)
			if err != nil {
				results[i].err = err
				return nil
			}
			report, err := img.Scan(ctx, engine.Input{Name: src.Name(), Data: data})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				results[i].err = err
				return nil
			}
			results[i].Report = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func readSource(src intake.Source) ([]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func printReport(w io.Writer, r scanResult) {
	fmt.Fprintf(w, "%s\n", scanFileStyle.Render(r.Name))
	if r.err != nil {
		fmt.Fprintf(w, "  %s %s\n", scanBulletStyle.Render("-"), scanWarnStyle.Render(r.err.Error()))
		return
	}
	if r.Clean() {
		fmt.Fprintf(w, "  %s %s\n", scanBulletStyle.Render("-"), scanDimStyle.Render("none"))
		return
	}
	for _, detail := range r.Details {
		fmt.Fprintf(w, "  %s\n", scanCategoryStyle.Render(detail.Category+":"))
		for _, value := range detail.Values {
			fmt.Fprintf(w, "    %s %s\n", scanBulletStyle.Render("-"), scanValueStyle.Render(value))
		}
	}
	for _, insight := range r.Insights {
		fmt.Fprintf(w, "  %s %s\n", scanWarnStyle.Render("!"), scanValueStyle.Render(insight.Message))
	}
}

var (
	scanFileStyle     = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	scanCategoryStyle = lipgloss.NewStyle().Foreground(tui.ColorAccentAlt)
	scanValueStyle    = lipgloss.NewStyle().Foreground(tui.ColorInk)
	scanDimStyle      = lipgloss.NewStyle().Foreground(tui.ColorDim)
	scanBulletStyle   = lipgloss.NewStyle().Foreground(tui.ColorDim)
	scanWarnStyle     = lipgloss.NewStyle().Foreground(tui.ColorWarn)
)

func init() {
	rootCmd.AddCommand(scanCmd)
}
