package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/HerbHall/entitykit/internal/backup"
)

func runBackup(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	configPath := commonFlags(fs)
	output := fs.String("output", "", "output file path (default: entitykit-backup-{timestamp}.tar.gz)")
	toS3 := fs.Bool("s3", false, "upload the archive to backup.s3_bucket")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v, cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if d := v.GetString("database.driver"); d != "sqlite" && d != "" {
		return fmt.Errorf("backup supports the sqlite driver only (database.driver=%s)", d)
	}

	var s3cfg backup.S3Config
	if *toS3 {
		if err := cfg.Sub("backup").Unmarshal(&s3cfg); err != nil {
			return fmt.Errorf("backup config: %w", err)
		}
		if s3cfg.Bucket == "" {
			return fmt.Errorf("-s3 requires backup.s3_bucket")
		}
	}

	if *output == "" {
		*output = fmt.Sprintf("entitykit-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	if err := backup.Backup(ctx, nil, v.GetString("database.path"), v.ConfigFileUsed(), *output); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	fmt.Fprintf(stdout, "Backup created: %s\n", *output)

	if !*toS3 {
		return nil
	}
	client, err := backup.NewS3Client(ctx, s3cfg)
	if err != nil {
		return err
	}
	key, err := backup.Upload(ctx, client, s3cfg, *output)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Uploaded to s3://%s/%s\n", s3cfg.Bucket, key)
	return nil
}
