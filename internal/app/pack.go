package app

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"relsync/internal/release"
	"relsync/internal/store"
	"relsync/internal/transport"
)

// PackResult reports what a pack published.
type PackResult struct {
	Manifest  *release.Manifest
	Stats     release.PackStats
	Published []string // manifest names written to the store
}

// Pack packs the build tree at src as version, publishes its manifest and,
// when diffFrom is set, an incremental manifest from that earlier version.
func (a *ReleaseApp) Pack(ctx context.Context, src, version, diffFrom string) (*PackResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	res, err := a.pack(ctx, src, version, diffFrom)
	return res, a.op.fail(err)
}

func (a *ReleaseApp) pack(ctx context.Context, src, version, diffFrom string) (*PackResult, error) {
	if version == "" {
		return nil, fmt.Errorf("version is required")
	}
	c, err := a.packCodec()
	if err != nil {
		return nil, err
	}
	defer a.closeCodec(c)
	prefix, err := a.urlPrefix()
	if err != nil {
		return nil, err
	}

	packer := release.NewPacker(a.fsmgr, c, a.store, a.logger, a.cfg.Packer.Concurrency)
	m, stats, err := packer.Pack(ctx, src, release.PackOptions{
		Version:      version,
		Architecture: a.cfg.Release.Architecture,
		InstallType:  a.cfg.Release.InstallType,
		URLPrefix:    prefix,
		URLSuffix:    a.cfg.Packer.URLSuffix,
	})
	if err != nil {
		return nil, err
	}

	name, err := packer.Publish(ctx, m)
	if err != nil {
		return nil, err
	}
	res := &PackResult{Manifest: m, Stats: stats, Published: []string{name}}

	if diffFrom != "" {
		base, err := a.publishedManifest(ctx, diffFrom)
		if err != nil {
			return nil, fmt.Errorf("loading base version %s: %w", diffFrom, err)
		}
		incName, err := packer.Publish(ctx, release.Incremental(base, m))
		if err != nil {
			return nil, err
		}
		res.Published = append(res.Published, incName)
	}

	a.logger.Info("packed release", "version", version, "files", stats.Files,
		"written", stats.Written, "reused", stats.Reused, "size", m.Size, "compressed_size", m.CompressedSize)
	return res, nil
}

// urlPrefix is the configured url_prefix or, for a filesystem store, the
// file:// URL of its blob directory.
func (a *ReleaseApp) urlPrefix() (string, error) {
	if a.cfg.Packer.URLPrefix != "" {
		return a.cfg.Packer.URLPrefix, nil
	}
	fsStore, ok := a.store.(*store.FileSystemStore)
	if !ok {
		return "", fmt.Errorf("packer.url_prefix must be set for %s stores", a.cfg.Store.Type)
	}
	return transport.FileURL(filepath.Join(fsStore.Root(), "file"))
}

// publishedManifest reads the full manifest of version from the store.
func (a *ReleaseApp) publishedManifest(ctx context.Context, version string) (*release.Manifest, error) {
	name := release.FileName(version, a.cfg.Release.Architecture, a.cfg.Release.InstallType)
	data, err := a.store.GetManifest(ctx, name)
	if err != nil {
		return nil, err
	}
	m, err := release.DecodeManifest(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ManifestURL returns the URL a published manifest can be fetched from when
// the store is a local directory.
func (a *ReleaseApp) ManifestURL(name string) (string, error) {
	fsStore, ok := a.store.(*store.FileSystemStore)
	if !ok {
		return "", fmt.Errorf("manifest urls are only known for filesystem stores")
	}
	dir, err := transport.FileURL(filepath.Join(fsStore.Root(), "manifest"))
	if err != nil {
		return "", err
	}
	return dir + name, nil
}
