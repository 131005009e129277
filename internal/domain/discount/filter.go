package discount

import (
	"io"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
)

// CodeFilter is a probabilistic set of known discount codes. A negative
// answer is definite; a positive one still needs a lookup.
type CodeFilter struct {
	bf *bloom.BloomFilter
}

// NewCodeFilter returns an empty filter sized for capacity codes at the
// given false positive rate.
func NewCodeFilter(capacity uint, fpr float64) *CodeFilter {
	return &CodeFilter{bf: bloom.NewWithEstimates(capacity, fpr)}
}

// Add records code.
func (f *CodeFilter) Add(code string) {
	f.bf.AddString(strings.ToUpper(code))
}

// MayContain reports whether code may have been added.
func (f *CodeFilter) MayContain(code string) bool {
	return f.bf.TestString(strings.ToUpper(code))
}

// WriteTo writes the filter gzip-compressed.
func (f *CodeFilter) WriteTo(w io.Writer) (int64, error) {
	gz := pgzip.NewWriter(w)
	n, err := f.bf.WriteTo(gz)
	if err != nil {
		return n, errors.Wrap(err, "write bloom filter")
	}
	if err := gz.Close(); err != nil {
		return n, errors.Wrap(err, "close gzip")
	}
	return n, nil
}

// ReadCodeFilter reads a filter written by WriteTo.
func ReadCodeFilter(r io.Reader) (*CodeFilter, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var bf bloom.BloomFilter
	if _, err := bf.ReadFrom(gz); err != nil {
		return nil, errors.Wrap(err, "read bloom filter")
	}
	return &CodeFilter{bf: &bf}, nil
}

// LoadCodeFilter reads a filter file written by WriteTo.
func LoadCodeFilter(path string) (*CodeFilter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	return ReadCodeFilter(f)
}
