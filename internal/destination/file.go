package destination

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/causalprof/profilomatic/pkg/compression"
	"github.com/causalprof/profilomatic/pkg/profiler"
)

// FileConfig configures the rotating JSON-lines file sink.
type FileConfig struct {
	Dir       string
	Compress  bool
	NoFlush   bool
	MaxSizeMB int // 0 means no rotation
}

// File writes each emitted root as one JSON-lines record into a
// size-rotated file under Dir, using an oldest-first rollover scheme
// once a size cap is exceeded, applied to bytes-in-current-file rather
// than file count. When Compress is set, each record is written as its own
// zstd frame via pkg/compression; zstd decoders read concatenated
// frames transparently, so the file as a whole still decodes as one
// stream of records without a persistent stream writer spanning
// rotations.
type File struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	noFlush  bool
	compress *compression.ZstdCompressor

	current    *os.File
	currentLen int64
	seq        int
}

// NewFile creates a File sink and ensures Dir exists.
func NewFile(cfg FileConfig) (*File, error) {
	if cfg.Dir == "" {
		cfg.Dir = "./profiles"
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("destination: create profile dir: %w", err)
	}
	maxBytes := int64(cfg.MaxSizeMB) * 1024 * 1024

	f := &File{dir: cfg.Dir, maxBytes: maxBytes, noFlush: cfg.NoFlush}
	if cfg.Compress {
		zc, err := compression.NewZstdCompressor(compression.LevelDefault)
		if err != nil {
			return nil, fmt.Errorf("destination: create zstd compressor: %w", err)
		}
		f.compress = zc
	}
	return f, nil
}

// Name identifies this sink for Fanout's failure logging.
func (f *File) Name() string { return "file" }

// Send appends root's JSON record, rotating to a new file first if the
// current one would exceed MaxSizeMB.
func (f *File) Send(root *profiler.CallGraphRoot) error {
	data, err := root.ToJSON()
	if err != nil {
		return fmt.Errorf("destination/file: marshal root: %w", err)
	}
	data = append(data, '\n')

	if f.compress != nil {
		data, err = f.compress.Compress(data)
		if err != nil {
			return fmt.Errorf("destination/file: compress: %w", err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil || (f.maxBytes > 0 && f.currentLen+int64(len(data)) > f.maxBytes) {
		if err := f.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := f.current.Write(data)
	if err != nil {
		return fmt.Errorf("destination/file: write: %w", err)
	}
	f.currentLen += int64(n)

	if f.noFlush {
		return nil
	}
	return f.current.Sync()
}

func (f *File) rotateLocked() error {
	f.closeCurrentLocked()

	f.seq++
	ext := ".jsonl"
	if f.compress != nil {
		ext = ".jsonl.zst"
	}
	name := fmt.Sprintf("profile_%s_%04d%s", time.Now().Format("20060102_150405"), f.seq, ext)
	path := filepath.Join(f.dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("destination/file: open %s: %w", path, err)
	}
	f.current = file
	f.currentLen = 0
	return nil
}

func (f *File) closeCurrentLocked() {
	if f.current != nil {
		f.current.Close()
		f.current = nil
	}
}

// Close flushes and closes the current file and releases the
// compressor's encoder/decoder, if any.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCurrentLocked()
	if f.compress != nil {
		f.compress.Close()
	}
	return nil
}

// ListFiles returns the sink's written files, oldest first.
func (f *File) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".jsonl") && !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: name, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	out := make([]string, 0, len(files))
	for _, fi := range files {
		out = append(out, filepath.Join(f.dir, fi.name))
	}
	return out, nil
}
