package release

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// PackOptions carries the release metadata the packer stamps on a manifest.
type PackOptions struct {
	Version      string
	Architecture string
	InstallType  string
	URLPrefix    string
	URLSuffix    string
}

// PackStats counts store activity for one Pack call.
type PackStats struct {
	Files   int
	Written int // blobs written to the store
	Reused  int // blobs already present, no write
}

// Packer turns a build tree into blobs plus a manifest.
type Packer struct {
	fsmgr       FilesystemManager
	codec       Codec
	store       Store
	logger      Logger
	concurrency int
	group       singleflight.Group
}

// NewPacker creates a Packer. concurrency <= 0 uses GOMAXPROCS.
func NewPacker(fsmgr FilesystemManager, codec Codec, store Store, logger Logger, concurrency int) *Packer {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Packer{
		fsmgr:       fsmgr,
		codec:       codec,
		store:       store,
		logger:      logger,
		concurrency: concurrency,
	}
}

type packCounters struct {
	written atomic.Int64
	reused  atomic.Int64
}

// Pack compresses every file under root into the store and returns the
// manifest describing them. Blobs written before a failure stay in the store.
func (p *Packer) Pack(ctx context.Context, root string, opts PackOptions) (*Manifest, PackStats, error) {
	if opts.Version == "" {
		return nil, PackStats{}, fmt.Errorf("pack: version is required")
	}

	paths, err := p.fsmgr.FindFiles(root)
	if err != nil {
		return nil, PackStats{}, fmt.Errorf("listing %s: %w", root, err)
	}
	p.logger.Info("packing release", "root", root, "version", opts.Version, "files", len(paths), "codec", p.codec.Name())

	entries := make([]FileEntry, len(paths))
	var counters packCounters

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry, err := p.packFile(gctx, root, rel, &counters)
			if err != nil {
				return err
			}
			entries[i] = entry
			p.logger.Debug("packed file", "path", rel, "size", entry.Size, "compressed_size", entry.CompressedSize)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, PackStats{}, err
	}

	m := &Manifest{
		Version:      opts.Version,
		Architecture: opts.Architecture,
		InstallType:  opts.InstallType,
		URLPrefix:    opts.URLPrefix,
		URLSuffix:    opts.URLSuffix,
		Files:        entries,
	}
	m.SortFiles()
	m.RecomputeTotals()

	stats := PackStats{
		Files:   len(entries),
		Written: int(counters.written.Load()),
		Reused:  int(counters.reused.Load()),
	}
	p.logger.Info("packed release", "files", m.FileCount, "size", m.Size, "compressed_size", m.CompressedSize,
		"written", stats.Written, "reused", stats.Reused)
	return m, stats, nil
}

func (p *Packer) packFile(ctx context.Context, root, rel string, counters *packCounters) (FileEntry, error) {
	data, err := p.fsmgr.ReadFile(root, rel)
	if err != nil {
		return FileEntry{}, &FileError{Path: rel, Err: fmt.Errorf("%w: %w", ErrIOFailure, err)}
	}
	id := ComputeID(data)

	// Identical files packed concurrently share one compression and write.
	v, err, _ := p.group.Do(string(id), func() (any, error) {
		return p.storeBlob(ctx, id, data, counters)
	})
	if err != nil {
		return FileEntry{}, &FileError{Path: rel, ID: id, Err: err}
	}
	info := v.(*BlobInfo)

	return FileEntry{
		Path:           rel,
		ID:             id,
		Size:           int64(len(data)),
		CompressedSize: info.Size,
		Hash:           id.Hash(),
		CompressedHash: info.Hash,
	}, nil
}

// storeBlob returns the stored blob for id, compressing and writing it only
// when the store does not have it yet.
func (p *Packer) storeBlob(ctx context.Context, id ContentID, data []byte, counters *packCounters) (*BlobInfo, error) {
	info, err := p.store.StatBlob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checking store: %w", err)
	}
	if info != nil {
		counters.reused.Add(1)
		return info, nil
	}

	compressed, err := p.codec.Compress(data)
	if err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}

	written, err := p.store.PutBlob(ctx, id, compressed)
	if err != nil {
		return nil, fmt.Errorf("storing blob: %w", err)
	}
	if !written {
		// Another writer stored the id first; describe what is stored.
		counters.reused.Add(1)
		info, err := p.store.StatBlob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("checking store: %w", err)
		}
		if info == nil {
			return nil, fmt.Errorf("blob %s vanished after write", id)
		}
		return info, nil
	}

	counters.written.Add(1)
	return &BlobInfo{Size: int64(len(compressed)), Hash: HashBytes(compressed)}, nil
}

// Publish serializes m and stores it under its deterministic name, replacing
// any earlier manifest for the same version, architecture and install type.
func (p *Packer) Publish(ctx context.Context, m *Manifest) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return "", err
	}
	name := m.FileName()
	if err := p.store.PutManifest(ctx, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("publishing %s: %w", name, err)
	}
	p.logger.Info("published manifest", "name", name)
	return name, nil
}
