package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"
)

func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	v, _, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// Opening the repository applies pending migrations.
	repo, err := openRepository(ctx, v, logger)
	if err != nil {
		return err
	}
	defer repo.close() //nolint:errcheck

	fmt.Fprintf(stdout, "Migrations applied (%s)\n", v.GetString("database.driver"))
	if repo.sqlite == nil {
		return nil
	}
	applied, err := repo.sqlite.Applied(ctx)
	if err != nil {
		return err
	}
	for _, m := range applied {
		fmt.Fprintf(stdout, "  %s/%d  %s  %s\n", m.Plugin, m.Version, m.AppliedAt.Format(time.DateTime), m.Description)
	}
	return nil
}
