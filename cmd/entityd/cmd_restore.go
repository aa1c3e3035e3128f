package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/HerbHall/entitykit/internal/backup"
)

func runRestore(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	configPath := commonFlags(fs)
	input := fs.String("input", "", "backup archive to restore (required)")
	dataDir := fs.String("data-dir", "", "target directory (default: directory of database.path)")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *input == "" {
		fs.Usage()
		return errors.New("-input is required")
	}

	if *dataDir == "" {
		v, _, _, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		*dataDir = filepath.Dir(v.GetString("database.path"))
	}

	restored, err := backup.Restore(ctx, *input, *dataDir, *force)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	fmt.Fprintf(stdout, "Restore complete: %s restored to %s\n", strings.Join(restored, ", "), *dataDir)
	return nil
}
