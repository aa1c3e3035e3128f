// @title						entitykit API
// @version					1.0
// @description				Paginated, searchable entities with unique names.
// @BasePath					/api/v1
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/HerbHall/entitykit/internal/version"
)

const usage = `Usage: entityd [command] [flags]

Commands:
  serve     run the HTTP server (default)
  migrate   apply database migrations and exit
  seed      load entities from a YAML file (default: built-in sample)
  backup    archive the SQLite database, optionally uploading to S3
  restore   extract a backup archive
  version   print version information

Run "entityd <command> -h" for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "entityd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(ctx, args)
	case "migrate":
		return runMigrate(ctx, args, stdout)
	case "seed":
		return runSeed(ctx, args, stdout)
	case "backup":
		return runBackup(ctx, args, stdout)
	case "restore":
		return runRestore(ctx, args, stdout)
	case "version":
		fmt.Fprintln(stdout, version.Info("entityd"))
		return nil
	case "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}
