// Command password-denylist builds the breached-password filter loaded by
// the API server.
//
// Each input is a newline-separated password list, optionally gzip
// compressed. Inputs are scanned concurrently into filters of identical
// shape that are merged into the output file.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/octohub/internal/domain/passwords"
)

func main() {
	var (
		output   string
		capacity uint
		fpRate   float64
		minLen   int
	)
	flag.StringVar(&output, "out", "denylist.bin.gz", "output file")
	flag.UintVar(&capacity, "capacity", 100_000_000, "expected number of distinct passwords")
	flag.Float64Var(&fpRate, "fp-rate", 0.001, "false positive rate")
	flag.IntVar(&minLen, "min-len", 8, "skip passwords shorter than the registration minimum")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if flag.NArg() == 0 {
		lg.Fatal("No input files: password-denylist [flags] list1.txt[.gz] ...")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	d, err := build(ctx, lg, flag.Args(), capacity, fpRate, minLen)
	if err != nil {
		lg.Fatal("Build denylist", zap.Error(err))
	}
	if err := write(output, d); err != nil {
		lg.Fatal("Write denylist", zap.Error(err))
	}
	lg.Info("Denylist written",
		zap.String("path", output),
		zap.Uint32("approx_size", d.ApproximateSize()),
	)
}

// build scans every file into its own filter, then merges them.
func build(ctx context.Context, lg *zap.Logger, files []string, capacity uint, fpRate float64, minLen int) (*passwords.Denylist, error) {
	parts := make([]*passwords.Denylist, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			part := passwords.New(capacity, fpRate)
			n, err := addFile(ctx, part, path, minLen)
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			lg.Info("Scanned", zap.String("file", path), zap.Int("passwords", n))
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := parts[0]
	for _, part := range parts[1:] {
		if err := merged.Merge(part); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func addFile(ctx context.Context, d *passwords.Denylist, path string, minLen int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = bufio.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".gz") {
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return 0, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return d.AddLines(ctx, r, minLen)
}

// write replaces path atomically so a running server never loads a
// truncated file.
func write(path string, d *passwords.Denylist) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".denylist-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := d.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "rename")
	}
	return nil
}
