// Package importer loads promotions from gzip-compressed NDJSON dumps, one
// promotion object per line, into a promotion.Store.
package importer

import (
	"bufio"
	"context"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-rules/internal/domain/promotion"
)

const (
	bloomFPR      = 0.001
	maxLineBytes  = 1 << 20
	progressEvery = 1000
)

// Stats summarises one import run.
type Stats struct {
	Read       int
	Invalid    int
	Duplicates int
	Existing   int
	Created    int
}

type record struct {
	p    *promotion.Promotion
	file string
	line int
}

// Importer writes decoded promotions to a store.
type Importer struct {
	store promotion.Store
	lg    *zap.Logger
}

// New returns an Importer writing to store.
func New(store promotion.Store, lg *zap.Logger) *Importer {
	return &Importer{store: store, lg: lg}
}

// Run imports every file. Files are decoded concurrently; records are then
// written in file order, so when a code repeats the first occurrence wins.
// Ids from the dump are discarded and the store assigns new ones.
func (im *Importer) Run(ctx context.Context, files []string) (Stats, error) {
	var stats Stats

	decoded, err := im.decodeAll(ctx, files)
	if err != nil {
		return stats, err
	}

	var records []record
	for _, rs := range decoded {
		records = append(records, rs...)
	}
	stats.Read = len(records)

	valid := records[:0]
	for _, r := range records {
		if err := r.p.Check(); err != nil {
			stats.Invalid++
			im.lg.Warn("Skip invalid promotion",
				zap.String("file", r.file),
				zap.Int("line", r.line),
				zap.String("code", r.p.Code),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, r)
	}

	for i, r := range dedupe(valid, &stats) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		p := r.p
		p.ID = ""
		switch err := im.store.Create(ctx, p); {
		case errors.Is(err, promotion.ErrDuplicateCode):
			stats.Existing++
		case err != nil:
			return stats, errors.Wrapf(err, "create %s (%s:%d)", p.Code, r.file, r.line)
		default:
			stats.Created++
		}

		if (i+1)%progressEvery == 0 {
			im.lg.Info("Import progress", zap.Int("written", i+1))
		}
	}
	return stats, nil
}

// dedupe drops repeated codes. A bloom filter flags codes that may have
// been seen; only those are confirmed against an exact set, which stays
// small when repeats are rare.
func dedupe(records []record, stats *Stats) []record {
	if len(records) == 0 {
		return nil
	}
	filter := bloom.NewWithEstimates(uint(len(records)), bloomFPR)

	suspects := make(map[string]struct{})
	for _, r := range records {
		if filter.TestAndAddString(r.p.Code) {
			suspects[r.p.Code] = struct{}{}
		}
	}

	kept := make([]record, 0, len(records))
	seen := make(map[string]struct{}, len(suspects))
	for _, r := range records {
		if _, suspect := suspects[r.p.Code]; suspect {
			if _, dup := seen[r.p.Code]; dup {
				stats.Duplicates++
				continue
			}
			seen[r.p.Code] = struct{}{}
		}
		kept = append(kept, r)
	}
	return kept
}

func (im *Importer) decodeAll(ctx context.Context, files []string) ([][]record, error) {
	out := make([][]record, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			rs, err := decodeFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "decode %s", path)
			}
			im.lg.Info("Decoded dump", zap.String("file", path), zap.Int("promotions", len(rs)))
			out[i] = rs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeFile(ctx context.Context, path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var (
		records []record
		line    int
	)
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		p, err := promotion.DecodePromotion(jx.DecodeBytes(scanner.Bytes()))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		records = append(records, record{p: p, file: path, line: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	return records, nil
}
