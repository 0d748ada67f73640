package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/source"
)

type countOptions struct {
	importName string
	delimiter  string
	enclosure  string
	escape     string
	headerRow  int
}

func newCountCmd(a *app) *cobra.Command {
	var opts countOptions

	cmd := &cobra.Command{
		Use:   "count <file>",
		Short: "Print the number of lines and the source id of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.importName != "" {
				jobs, err := config.LoadJobs(a.cfg.Import.JobsFile)
				if err != nil {
					return err
				}
				job, ok := jobs.Get(opts.importName)
				if !ok {
					return fmt.Errorf("unknown import %q", opts.importName)
				}
				opts.delimiter = job.Source.Delimiter
				opts.enclosure = job.Source.Enclosure
				opts.escape = job.Source.EscapeChar()
				opts.headerRow = job.Source.HeaderRow
			}
			return count(cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.importName, "import", "", "use the dialect of this configured import")
	cmd.Flags().StringVar(&opts.delimiter, "delimiter", config.DefaultDelimiter, "field delimiter")
	cmd.Flags().StringVar(&opts.enclosure, "enclosure", config.DefaultEnclosure, "field enclosure")
	cmd.Flags().StringVar(&opts.escape, "escape", config.DefaultEscape, "escape character, empty to disable")
	cmd.Flags().IntVar(&opts.headerRow, "header-row", 0, "zero-based index of the header line")

	return cmd
}

func count(out io.Writer, path string, opts countOptions) error {
	src, err := source.NewCSV(path,
		source.WithDelimiter(opts.delimiter),
		source.WithEnclosure(opts.enclosure),
		source.WithEscape(opts.escape),
		source.WithHeaderRow(opts.headerRow),
	)
	if err != nil {
		return err
	}
	defer src.Close()

	n, err := src.Count()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d\t%s\n", n, src.SourceID())
	return nil
}
