package bundler

import (
	"context"
	"encoding/binary"
	"hash"
	"io"
	"os"

	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlecfg/internal/plugin"
	"golang.org/x/sync/errgroup"
)

var (
	_ plugin.Reporter         = (*progressReporter)(nil)
	_ plugin.ParallelCompiler = (*workerPool)(nil)
)

// progressReporter logs one line per stage.
type progressReporter struct {
	logger zerolog.Logger
	format plugin.ProgressFormat
}

func (r *progressReporter) Stage(name string, done, total int) {
	if r.format == plugin.ProgressMinimal {
		r.logger.Info().Msgf("[%d/%d] %s", done, total, name)
		return
	}
	r.logger.Info().Str("stage", name).Int("done", done).Int("total", total).Msg("Build progress")
}

type nopReporter struct{}

func (nopReporter) Stage(string, int, int) {}

// workerPool runs compile jobs with at most Workers in flight.
type workerPool struct{}

func (workerPool) Compile(ctx context.Context, cfg plugin.ParallelCompile, jobs []func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.Workers))

	for _, job := range jobs {
		g.Go(func() error {
			return job(ctx)
		})
	}

	return g.Wait()
}

// contentKey fingerprints parts with CRC64-NVME and encodes the sum as base58.
func contentKey(parts ...[]byte) string {
	h := crc64nvme.New()
	for _, p := range parts {
		writeFramed(h, p)
	}

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], h.Sum64())
	return base58.Encode(sum[:])
}

// writeFramed length-prefixes p so adjacent parts cannot collide.
func writeFramed(h hash.Hash64, p []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(p)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(p)
}

// fileKey fingerprints a file, a missing file contributes nothing.
func fileKey(path string) []byte {
	f, err := os.Open(path) // #nosec G304 - project file
	if err != nil {
		return nil
	}
	defer f.Close()

	h := crc64nvme.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil
	}
	return h.Sum(nil)
}
