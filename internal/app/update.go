package app

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"relsync/internal/release"
)

// PlanResult describes what an apply would do, without doing it.
type PlanResult struct {
	InstallRoot        string
	Installed          *release.Manifest // nil on a first install
	Target             *release.Manifest // expanded to a full manifest
	Changes            release.ChangeSet
	Strategy           release.Strategy
	AutoUpdateDisabled bool
}

// StatusResult reports how an install root compares to its recorded
// manifest.
type StatusResult struct {
	InstallRoot string
	Installed   *release.InstalledRecord // nil if never installed
	Files       []release.FileStatus
}

// target is a resolved update target.
type target struct {
	manifest *release.Manifest
	detail   *release.ReleaseDetail
}

// installedManifest returns the recorded manifest for root, or nil.
func (a *ReleaseApp) installedManifest(root string) (*release.Manifest, error) {
	rec, err := a.db.GetInstalled(root)
	if err != nil {
		return nil, fmt.Errorf("reading installed record: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	return rec.Manifest, nil
}

// resolveTarget fetches the manifest to update to. With a release info URL
// the manifest comes from the index entry for the configured architecture
// and install type, preferring an incremental manifest from the installed
// version. An explicit manifest URL always wins.
func (a *ReleaseApp) resolveTarget(ctx context.Context, installed *release.Manifest, manifestURL, releaseInfoURL string) (*target, error) {
	var detail *release.ReleaseDetail
	if releaseInfoURL != "" {
		data, err := a.transport.Get(ctx, releaseInfoURL)
		if err != nil {
			return nil, fmt.Errorf("fetching release info: %w", err)
		}
		info, err := release.DecodeReleaseInfo(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		d, ok := info.Detail(a.cfg.Release.Architecture, a.cfg.Release.InstallType)
		if !ok {
			return nil, fmt.Errorf("release info has no entry for %s",
				release.ReleaseKey(a.cfg.Release.Architecture, a.cfg.Release.InstallType))
		}
		detail = d
		if manifestURL == "" {
			manifestURL = detail.ManifestURLFor(installedVersion(installed))
		}
	}
	if manifestURL == "" {
		return nil, fmt.Errorf("a manifest url or release info url is required")
	}

	m, err := a.fetchManifest(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	if m.IsIncremental() && m.DiffVersion != installedVersion(installed) && detail != nil && detail.ManifestURL != "" {
		a.logger.Warn("incremental manifest does not start from installed version, using full manifest",
			"diff_version", m.DiffVersion, "installed", installedVersion(installed))
		if m, err = a.fetchManifest(ctx, detail.ManifestURL); err != nil {
			return nil, err
		}
	}
	return &target{manifest: m, detail: detail}, nil
}

func (a *ReleaseApp) fetchManifest(ctx context.Context, url string) (*release.Manifest, error) {
	data, err := a.transport.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest %s: %w", url, err)
	}
	m, err := release.DecodeManifest(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	a.logger.Debug("fetched manifest", "url", url, "version", m.Version, "diff_version", m.DiffVersion)
	return m, nil
}

func installedVersion(m *release.Manifest) string {
	if m == nil {
		return ""
	}
	return m.Version
}

func absRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving install root %s: %w", root, err)
	}
	return abs, nil
}

// Plan resolves the target and computes the change set for root.
func (a *ReleaseApp) Plan(ctx context.Context, root, manifestURL, releaseInfoURL string) (*PlanResult, error) {
	root, err := absRoot(root)
	if err != nil {
		return nil, err
	}
	installed, err := a.installedManifest(root)
	if err != nil {
		return nil, err
	}
	tgt, err := a.resolveTarget(ctx, installed, manifestURL, releaseInfoURL)
	if err != nil {
		return nil, err
	}

	// Plan does no I/O, so the updater needs neither codec nor fetcher.
	u := release.NewUpdater(nil, nil, a.openArea, a.logger)
	full, cs, err := u.Plan(installed, tgt.manifest)
	if err != nil {
		return nil, err
	}
	res := &PlanResult{
		InstallRoot: root,
		Installed:   installed,
		Target:      full,
		Changes:     cs,
		Strategy:    release.ChooseStrategy(tgt.detail, cs),
	}
	if tgt.detail != nil {
		res.AutoUpdateDisabled = tgt.detail.DisableAutoUpdate
	}
	return res, nil
}

// Apply brings root to the resolved target and records the result.
// concurrency <= 0 uses the configured value. progress may be nil.
func (a *ReleaseApp) Apply(ctx context.Context, root, manifestURL, releaseInfoURL string, concurrency int, progress chan release.Progress) (*release.Manifest, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	m, err := a.apply(ctx, root, manifestURL, releaseInfoURL, concurrency, progress)
	return m, a.op.fail(err)
}

func (a *ReleaseApp) apply(ctx context.Context, root, manifestURL, releaseInfoURL string, concurrency int, progress chan release.Progress) (*release.Manifest, error) {
	root, err := absRoot(root)
	if err != nil {
		return nil, err
	}
	installed, err := a.installedManifest(root)
	if err != nil {
		return nil, err
	}
	tgt, err := a.resolveTarget(ctx, installed, manifestURL, releaseInfoURL)
	if err != nil {
		return nil, err
	}
	c, err := a.applyCodec()
	if err != nil {
		return nil, err
	}
	defer a.closeCodec(c)
	if concurrency <= 0 {
		concurrency = a.cfg.Updater.Concurrency
	}

	fetcher := release.NewFetcher(a.transport, a.logger,
		release.WithAttempts(a.cfg.Updater.FetchAttempts),
		release.WithBackoff(
			time.Duration(a.cfg.Updater.FetchBackoffInitialMS)*time.Millisecond,
			time.Duration(a.cfg.Updater.FetchBackoffMaxMS)*time.Millisecond,
		),
	)
	u := release.NewUpdater(fetcher, c, a.openArea, a.logger)
	full, err := u.Apply(ctx, root, installed, tgt.manifest, release.ApplyOptions{
		Concurrency: concurrency,
		Progress:    progress,
	})
	if err != nil {
		return nil, err
	}
	if err := a.db.PutInstalled(root, full); err != nil {
		return nil, fmt.Errorf("recording installed manifest: %w", err)
	}
	return full, nil
}

// Status hashes every recorded file under root.
func (a *ReleaseApp) Status(ctx context.Context, root string) (*StatusResult, error) {
	root, err := absRoot(root)
	if err != nil {
		return nil, err
	}
	rec, err := a.db.GetInstalled(root)
	if err != nil {
		return nil, fmt.Errorf("reading installed record: %w", err)
	}
	res := &StatusResult{InstallRoot: root, Installed: rec}
	if rec == nil {
		return res, nil
	}

	area, err := a.openArea(root)
	if err != nil {
		return nil, fmt.Errorf("opening install root %s: %w", root, err)
	}
	defer area.Close()

	res.Files, err = release.Verify(ctx, area, rec.Manifest)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Installed lists every recorded install root.
func (a *ReleaseApp) Installed() ([]*release.InstalledRecord, error) {
	return a.db.ListInstalled()
}

// Forget drops the installed record for root. The files are left alone.
func (a *ReleaseApp) Forget(root string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	root, err := absRoot(root)
	if err != nil {
		return a.op.fail(err)
	}
	return a.op.fail(a.db.DeleteInstalled(root))
}
