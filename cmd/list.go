package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"allinone/internal/tui"
)

var listVerbose bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		width := 0
		for _, t := range registry.All() {
			width = max(width, len(t.ID))
		}

		category := ""
		for _, t := range registry.All() {
			if t.Category != category {
				if category != "" {
					fmt.Fprintln(os.Stdout)
				}
				category = t.Category
				fmt.Fprintln(os.Stdout, listCategoryStyle.Render(strings.ToUpper(category)))
			}

			accept := make([]string, len(t.Accept))
			for i, k := range t.Accept {
				accept[i] = k.String()
			}
			id := listIDStyle.Render(fmt.Sprintf("%-*s", width, t.ID))
			fmt.Fprintf(os.Stdout, "  %s  %s %s\n", id, t.Title, listDimStyle.Render("("+strings.Join(accept, ", ")+")"))

			if !listVerbose {
				continue
			}
			for _, o := range t.Options {
				line := "--set " + o.Key + "="
				if o.Default != "" {
					line += o.Default
				}
				if o.Help != "" {
					line += "  " + o.Help
				}
				fmt.Fprintf(os.Stdout, "  %*s    %s\n", width, "", listDimStyle.Render(line))
			}
		}
		return nil
	},
}

var (
	listCategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccentAlt)
	listIDStyle       = lipgloss.NewStyle().Foreground(tui.ColorAccent)
	listDimStyle      = lipgloss.NewStyle().Foreground(tui.ColorDim)
)

func init() {
	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "show each tool's options")
	rootCmd.AddCommand(listCmd)
}
