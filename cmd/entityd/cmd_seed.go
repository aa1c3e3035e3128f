package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/HerbHall/entitykit/internal/entities"
	"github.com/HerbHall/entitykit/pkg/seed"
)

func runSeed(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	configPath := commonFlags(fs)
	file := fs.String("file", "", "YAML seed file (default: built-in sample)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set, err := loadSeed(*file)
	if err != nil {
		return err
	}

	v, _, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	repo, err := openRepository(ctx, v, logger)
	if err != nil {
		return err
	}
	defer repo.close()

	svc := entities.NewService(repo, nil, nil, logger)
	res, err := seed.Apply(ctx, set,
		func(ctx context.Context, e seed.Entry) error {
			_, err := svc.Create(ctx, entities.CreateInput{Name: e.Name, Description: e.Description})
			return err
		},
		func(err error) bool { return errors.Is(err, entities.ErrConflict) },
	)
	fmt.Fprintf(stdout, "Seeded %d entities (%d already present)\n", res.Created, res.Skipped)
	return err
}

func loadSeed(path string) (*seed.Set, error) {
	if path == "" {
		return seed.Sample()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return seed.Parse(f)
}
