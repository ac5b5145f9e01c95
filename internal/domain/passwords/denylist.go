// Package passwords rejects passwords known from public breach corpora.
//
// The denylist is a bloom filter: lookups may report false positives at the
// configured rate, never false negatives. On disk it is the serialized filter
// compressed with parallel gzip.
package passwords

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
)

// Denylist is a set of breached passwords. A nil *Denylist contains nothing.
type Denylist struct {
	filter *bloom.BloomFilter
}

// New creates an empty denylist sized for capacity entries at the given
// false positive rate.
func New(capacity uint, fpRate float64) *Denylist {
	return &Denylist{filter: bloom.NewWithEstimates(capacity, fpRate)}
}

// Contains reports whether password is (probably) breached.
func (d *Denylist) Contains(password string) bool {
	if d == nil || d.filter == nil {
		return false
	}
	return d.filter.TestString(password)
}

// Add inserts a password.
func (d *Denylist) Add(password string) {
	d.filter.AddString(password)
}

// Merge adds every entry of other. Both must share size parameters.
func (d *Denylist) Merge(other *Denylist) error {
	if err := d.filter.Merge(other.filter); err != nil {
		return errors.Wrap(err, "merge filters")
	}
	return nil
}

// ApproximateSize estimates the number of distinct entries.
func (d *Denylist) ApproximateSize() uint32 {
	return d.filter.ApproximatedSize()
}

// AddLines adds every non-empty line of r and returns how many were read.
func (d *Denylist) AddLines(ctx context.Context, r io.Reader, minLen int) (int, error) {
	scanner := bufio.NewScanner(r)
	var n int
	for scanner.Scan() {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		line := scanner.Text()
		if len(line) < minLen {
			continue
		}
		d.filter.AddString(line)
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, "scan")
	}
	return n, nil
}

// WriteTo writes the compressed filter to w.
func (d *Denylist) WriteTo(w io.Writer) (int64, error) {
	gz := pgzip.NewWriter(w)
	n, err := d.filter.WriteTo(gz)
	if err != nil {
		return n, errors.Wrap(err, "write filter")
	}
	if err := gz.Close(); err != nil {
		return n, errors.Wrap(err, "close gzip")
	}
	return n, nil
}

// Read decodes a denylist written by WriteTo.
func Read(r io.Reader) (*Denylist, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open gzip")
	}
	defer func() { _ = gz.Close() }()

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(gz); err != nil {
		return nil, errors.Wrap(err, "read filter")
	}
	return &Denylist{filter: filter}, nil
}

// Load reads a denylist file. An empty path yields a nil denylist.
func Load(path string) (*Denylist, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()
	return Read(bufio.NewReader(f))
}
