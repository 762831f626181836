package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/seantiz/servicedg/internal/config"
	"github.com/seantiz/servicedg/internal/engine"
	"github.com/seantiz/servicedg/internal/report"
	"github.com/seantiz/servicedg/internal/store"
)

func newExportCmd() *cobra.Command {
	var (
		blockID string
		format  string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a completed block's report to a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), cmd.OutOrStdout(), blockID, format, out)
		},
	}
	cmd.Flags().StringVar(&blockID, "block", "", "Block id, e.g. block-1")
	cmd.Flags().StringVar(&format, "format", string(report.FormatCSV), "Export format: csv, xlsx or html")
	cmd.Flags().StringVar(&out, "out", "", "Output path, a directory, or - for stdout (default: report file name in the working directory)")
	_ = cmd.MarkFlagRequired("block")
	return cmd
}

func runExport(ctx context.Context, stdout io.Writer, blockID, format, out string) error {
	f, err := report.ParseFormat(format)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	r, err := engine.LoadReport(ctx, db, blockID)
	if err != nil {
		return err
	}

	if out == "-" {
		return report.Write(stdout, r, f)
	}
	path := out
	if path == "" {
		path = f.Filename(r)
	} else if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, f.Filename(r))
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.Write(file, r, f); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintln(stdout, path)
	return nil
}
