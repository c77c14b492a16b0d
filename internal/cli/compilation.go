package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewCompilationCmd создаёт группу команд для асинхронных компиляций.
func NewCompilationCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "compilation",
		Aliases: []string{"compilations"},
		Short:   "Manage queued compilations",
	}

	cmd.AddCommand(
		newCompilationSubmitCmd(clientFn, outputFn),
		newCompilationShowCmd(clientFn, outputFn),
		newCompilationListCmd(clientFn, outputFn),
	)

	return cmd
}

var compilationHeaders = []string{"ID", "FILE", "STATUS", "STRATEGY", "CREATED"}

func compilationRow(c CompilationResponse) []string {
	strategy := c.Strategy
	if strategy == "" {
		strategy = "-"
	}
	return []string{c.ID, c.Filename, c.Status, strategy, c.CreatedAt}
}

func newCompilationSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var includeSource bool

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Queue a script for compilation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}

			c, err := client.SubmitCompilation(SubmitCompilationRequest{
				Filename:      filepath.Base(args[0]),
				Source:        string(data),
				IncludeSource: includeSource,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Compilation queued: %s", c.ID))
			out.Print(compilationHeaders, [][]string{compilationRow(*c)}, c)
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeSource, "code", false, "Keep the source with the result")

	return cmd
}

func newCompilationShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show compilation status and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			c, err := client.GetCompilation(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(c)
				return nil
			}

			out.Table(compilationHeaders, [][]string{compilationRow(*c)})
			switch {
			case c.FSM != nil:
				fmt.Fprintln(out.w)
				out.JSON(c.FSM)
			case c.Diagnostic != "":
				fmt.Fprintln(out.w)
				fmt.Fprintln(out.w, c.Diagnostic)
			}
			return nil
		},
	}
}

func newCompilationListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent compilations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			items, err := client.ListCompilations(limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(items))
			for i, c := range items {
				rows[i] = compilationRow(c)
			}

			out.Print(compilationHeaders, rows, items)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of compilations")

	return cmd
}
