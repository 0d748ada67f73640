package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/importer"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <import> [file]",
		Short: "Import the pending files of an import, or a single file",
		Long: `Without a file, every file in the import's incoming directory that
matches match_files is processed, oldest first. With a file, only that
file is processed; it may live anywhere on disk.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 2 {
				file = args[1]
			}
			return a.run(cmd.Context(), cmd.OutOrStdout(), args[0], file)
		},
	}
}

func (a *app) run(ctx context.Context, out io.Writer, name, file string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := a.newRunner(st)
	if err != nil {
		return err
	}

	var results []*importer.RunResult
	if file != "" {
		var result *importer.RunResult
		result, err = runner.RunFile(ctx, name, file)
		if result != nil {
			results = append(results, result)
		}
	} else {
		results, err = runner.RunJob(ctx, name)
	}

	if len(results) == 0 && err == nil {
		fmt.Fprintf(out, "%s: no pending files\n", name)
	}
	for _, r := range results {
		printResult(out, r)
	}
	return err
}

func printResult(out io.Writer, r *importer.RunResult) {
	fmt.Fprintf(out, "%s\t%s\tlines=%d imported=%d failed=%d\t%s\n",
		r.Outcome, r.File, r.Lines, r.Imported, r.Failed, r.ArchivePath)
	for _, msg := range r.Errors {
		fmt.Fprintf(out, "\t%s\n", msg)
	}
}
