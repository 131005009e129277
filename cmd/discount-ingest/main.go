// Command discount-ingest bulk loads discount codes for one campaign from
// code list files (plain or gzip, one code per line) and rebuilds the code
// prefilter the API server loads at startup.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/mothership-commerce/internal/domain/discount"
	"github.com/xenking/mothership-commerce/internal/storage/postgres"
)

const (
	progressEvery = 1_000_000
	filterFPR     = 0.001
)

// campaign is the rule every ingested code receives.
type campaign struct {
	Type        discount.Type
	Value       decimal.Decimal
	MinItems    int
	MaxUses     int
	MaxDiscount decimal.Decimal
	ValidUntil  *time.Time
	Description string
	MinLen      int
	MaxLen      int
}

func main() {
	var (
		databaseURL string
		filterOut   string
		discType    string
		value       string
		maxDiscount string
		validUntil  string
		c           campaign
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&filterOut, "filter-out", "data/discount-codes.bloom.gz", "where to write the rebuilt code filter; empty skips it")
	flag.StringVar(&discType, "type", string(discount.TypePercentage), "discount type: percentage, fixed or free_lowest")
	flag.StringVar(&value, "value", "10", "percentage or fixed amount")
	flag.StringVar(&maxDiscount, "max-discount", "0", "cap on the deducted amount; 0 for none")
	flag.StringVar(&validUntil, "valid-until", "", "expiry date (YYYY-MM-DD or RFC 3339)")
	flag.IntVar(&c.MinItems, "min-items", 0, "minimum item count")
	flag.IntVar(&c.MaxUses, "max-uses", 1, "uses per code; 0 for unlimited")
	flag.StringVar(&c.Description, "description", "", "campaign description")
	flag.IntVar(&c.MinLen, "min-len", 6, "shortest accepted code")
	flag.IntVar(&c.MaxLen, "max-len", 16, "longest accepted code")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		slog.Error("at least one code file is required")
		os.Exit(1)
	}
	if err := c.parse(discType, value, maxDiscount, validUntil); err != nil {
		slog.Error("invalid campaign", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, filterOut, c, flag.Args()); err != nil {
		slog.Error("discount ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount ingest completed successfully")
}

func (c *campaign) parse(discType, value, maxDiscount, validUntil string) error {
	c.Type = discount.Type(discType)
	switch c.Type {
	case discount.TypePercentage, discount.TypeFixed, discount.TypeFreeLowest:
	default:
		return errors.Errorf("unknown discount type %q", discType)
	}

	var err error
	if c.Value, err = decimal.NewFromString(value); err != nil || c.Value.IsNegative() {
		return errors.Errorf("invalid value %q", value)
	}
	if c.Type == discount.TypePercentage && c.Value.GreaterThan(decimal.NewFromInt(100)) {
		return errors.Errorf("percentage %s exceeds 100", c.Value)
	}
	if c.MaxDiscount, err = decimal.NewFromString(maxDiscount); err != nil || c.MaxDiscount.IsNegative() {
		return errors.Errorf("invalid max discount %q", maxDiscount)
	}
	if c.MinLen < 1 || c.MaxLen < c.MinLen {
		return errors.Errorf("invalid code length range %d-%d", c.MinLen, c.MaxLen)
	}

	if validUntil != "" {
		t, err := parseDate(validUntil)
		if err != nil {
			return err
		}
		c.ValidUntil = &t
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid date %q", s)
	}
	// A bare date is valid through the end of that day.
	return t.Add(24*time.Hour - time.Second), nil
}

func run(ctx context.Context, databaseURL, filterOut string, c campaign, files []string) error {
	slog.Info("reading code files", slog.Int("files", len(files)))

	codes, err := collectCodes(ctx, files, c)
	if err != nil {
		return errors.Wrap(err, "collect codes")
	}
	slog.Info("unique codes found", slog.Int("count", len(codes)))

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewDiscountRepository(pool)
	if len(codes) > 0 {
		if err := repo.Upsert(ctx, c.rules(codes)); err != nil {
			return errors.Wrap(err, "write discount rules")
		}
		slog.Info("discount rules written", slog.Int("count", len(codes)))
	}

	if filterOut == "" {
		return nil
	}
	return writeFilter(ctx, repo, filterOut, uint(len(codes)))
}

// collectCodes streams every file concurrently and returns the sorted set
// of valid, normalised codes across all of them.
func collectCodes(ctx context.Context, files []string, c campaign) ([]string, error) {
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			local := make(map[string]struct{})
			var read, rejected uint64
			err := streamFile(ctx, path, func(line string) {
				read++
				code, ok := normalizeCode(line, c.MinLen, c.MaxLen)
				if !ok {
					rejected++
					return
				}
				local[code] = struct{}{}
				if read%progressEvery == 0 {
					slog.Info("read progress", slog.String("file", filepath.Base(path)), slog.Uint64("lines", read))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			slog.Info("file complete",
				slog.String("file", filepath.Base(path)),
				slog.Uint64("lines", read),
				slog.Uint64("rejected", rejected),
				slog.Int("unique", len(local)),
			)

			mu.Lock()
			defer mu.Unlock()
			for code := range local {
				seen[code] = struct{}{}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// normalizeCode upper-cases line and accepts it when it is alphanumeric and
// within the length range.
func normalizeCode(line string, minLen, maxLen int) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(line))
	if len(code) < minLen || len(code) > maxLen {
		return "", false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", false
		}
	}
	return code, true
}

// streamFile calls fn for each line of path, decompressing .gz files.
func streamFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func (c campaign) rules(codes []string) []discount.Rule {
	rules := make([]discount.Rule, len(codes))
	for i, code := range codes {
		rules[i] = discount.Rule{
			Code:        code,
			Type:        c.Type,
			Value:       c.Value,
			MinItems:    c.MinItems,
			Description: c.Description,
			ValidUntil:  c.ValidUntil,
			MaxUses:     c.MaxUses,
			MaxDiscount: c.MaxDiscount,
		}
	}
	return rules
}

type codeSource interface {
	ActiveCodes(ctx context.Context, fn func(code string)) error
}

// writeFilter rebuilds the prefilter from every active code, not just this
// campaign's, and replaces path atomically.
func writeFilter(ctx context.Context, src codeSource, path string, hint uint) error {
	var active []string
	if err := src.ActiveCodes(ctx, func(code string) { active = append(active, code) }); err != nil {
		return errors.Wrap(err, "list active codes")
	}

	filter := discount.NewCodeFilter(max(uint(len(active)), hint, 1), filterFPR)
	for _, code := range active {
		filter.Add(code)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create filter directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".filter-*")
	if err != nil {
		return errors.Wrap(err, "create temp filter file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := filter.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close filter file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "replace filter file")
	}

	slog.Info("code filter written", slog.String("path", path), slog.Int("codes", len(active)))
	return nil
}
