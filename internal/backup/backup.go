// Package backup creates and restores tar.gz archives of the entitykit
// SQLite database and ships them to S3-compatible storage.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// Checkpointer flushes pending writes into the database file. A running
// store.SQLiteStore satisfies it.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// maxEntrySize bounds a single restored file.
const maxEntrySize = 4 << 30

// Backup creates a tar.gz archive containing the SQLite database and an
// optional config file. The WAL is checkpointed first, through cp when the
// database is open in this process, otherwise over a short-lived connection.
func Backup(ctx context.Context, cp Checkpointer, dbPath, configPath, outputPath string) (err error) {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %w", err)
	}

	if cp == nil {
		err = checkpointWAL(ctx, dbPath)
	} else {
		err = cp.Checkpoint(ctx)
	}
	if err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() {
		if cerr := outFile.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if err := addFileToTar(tw, dbPath, filepath.Base(dbPath)); err != nil {
		return fmt.Errorf("adding database to archive: %w", err)
	}

	// A missing config file is skipped.
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := addFileToTar(tw, configPath, filepath.Base(configPath)); err != nil {
				return fmt.Errorf("adding config to archive: %w", err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}

// checkpointWAL opens the database, runs a TRUNCATE checkpoint and closes
// the connection.
func checkpointWAL(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}

// Restore extracts an archive created by Backup into dataDir. Existing
// files are only overwritten when force is set. It returns the restored
// file names.
func Restore(ctx context.Context, inputPath, dataDir string, force bool) ([]string, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	var restored []string
	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name, err := safeName(hdr.Name)
		if err != nil {
			return restored, err
		}
		target := filepath.Join(dataDir, name)
		if _, err := os.Stat(target); err == nil && !force {
			return restored, fmt.Errorf("%s already exists (use -force to overwrite)", target)
		}
		if err := writeFile(target, tr, hdr.Size); err != nil {
			return restored, fmt.Errorf("restoring %s: %w", name, err)
		}
		restored = append(restored, name)
	}

	if len(restored) == 0 {
		return nil, errors.New("archive contains no files")
	}
	return restored, nil
}

// safeName rejects entries that would escape the target directory.
// Archives written by Backup only contain flat names.
func safeName(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || strings.ContainsRune(clean, filepath.Separator) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("unsafe archive entry %q", name)
	}
	return clean, nil
}

func writeFile(target string, r io.Reader, size int64) (err error) {
	if size > maxEntrySize {
		return fmt.Errorf("entry too large (%d bytes)", size)
	}
	tmp := target + ".restore"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = io.CopyN(f, r, size); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}
