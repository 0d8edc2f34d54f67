package destination

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/causalprof/profilomatic/internal/storage"
	"github.com/causalprof/profilomatic/pkg/compression"
	"github.com/causalprof/profilomatic/pkg/profiler"
)

// COSConfig configures the Tencent COS archival sink.
type COSConfig struct {
	Bucket, Region, SecretID, SecretKey, Domain, Scheme string
	KeyPrefix string
	Compress  bool
	Timeout   time.Duration
}

// COS uploads each finalized record as one object keyed by the key
// prefix plus the task_uuid (with a .json or .json.zst suffix), reusing
// internal/storage's COS client for the
// actual transfer. When Compress is set, each object is zstd-compressed
// before upload, the same compressor used by the file destination.
type COS struct {
	store     *storage.COSStorage
	keyPrefix string
	timeout   time.Duration
	compress  *compression.ZstdCompressor
}

// NewCOS creates a COS sink.
func NewCOS(cfg COSConfig) (*COS, error) {
	store, err := storage.NewCOSStorage(&storage.COSConfig{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		SecretID:  cfg.SecretID,
		SecretKey: cfg.SecretKey,
		Domain:    cfg.Domain,
		Scheme:    cfg.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("destination/cos: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &COS{store: store, keyPrefix: cfg.KeyPrefix, timeout: timeout}
	if cfg.Compress {
		zc, err := compression.NewZstdCompressor(compression.LevelBest)
		if err != nil {
			return nil, fmt.Errorf("destination/cos: create zstd compressor: %w", err)
		}
		c.compress = zc
	}
	return c, nil
}

// Name identifies this sink for Fanout's failure logging.
func (c *COS) Name() string { return "cos" }

// Send uploads root's JSON record as one COS object.
func (c *COS) Send(root *profiler.CallGraphRoot) error {
	data, err := root.ToJSON()
	if err != nil {
		return fmt.Errorf("destination/cos: marshal root: %w", err)
	}

	ext := "json"
	if c.compress != nil {
		data, err = c.compress.Compress(data)
		if err != nil {
			return fmt.Errorf("destination/cos: compress: %w", err)
		}
		ext = "json.zst"
	}

	key := fmt.Sprintf("%s%s.%s", c.keyPrefix, root.TaskUUID, ext)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.store.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("destination/cos: upload %s: %w", key, err)
	}
	return nil
}

// Close releases the compressor's encoder/decoder, if any.
func (c *COS) Close() error {
	if c.compress != nil {
		c.compress.Close()
	}
	return nil
}
