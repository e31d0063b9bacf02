package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// decodeAttempts bounds how often a blob that verified on the wire but failed
// to decode is fetched again.
const decodeAttempts = 2

// ApplyOptions tunes one Apply call.
type ApplyOptions struct {
	// Concurrency is the number of files processed at once (minimum 1).
	Concurrency int

	// Progress, when set, receives snapshots without blocking. A stale
	// snapshot still buffered is replaced by the newest one, so the last value
	// left in a buffered channel when Apply returns is the final state. Apply
	// never closes it.
	Progress chan Progress
}

// applyStats summarizes what an Apply call did.
type applyStats struct {
	Fetched int // downloaded and placed
	Copied  int // placed from another installed path with the same content
	Skipped int // already correct on disk
	Removed int
}

// Updater brings an install root to a target manifest.
type Updater struct {
	fetcher  *Fetcher
	codec    Codec
	openArea InstallAreaFactory
	logger   Logger
}

// NewUpdater creates an Updater.
func NewUpdater(fetcher *Fetcher, codec Codec, openArea InstallAreaFactory, logger Logger) *Updater {
	return &Updater{
		fetcher:  fetcher,
		codec:    codec,
		openArea: openArea,
		logger:   logger,
	}
}

// Plan validates both manifests and returns the expanded target together
// with the change set Apply would execute. No I/O is performed.
func (u *Updater) Plan(installed, target *Manifest) (*Manifest, ChangeSet, error) {
	if installed != nil {
		if err := installed.Validate(); err != nil {
			return nil, ChangeSet{}, fmt.Errorf("installed manifest: %w", err)
		}
		if installed.IsIncremental() {
			return nil, ChangeSet{}, fmt.Errorf("installed manifest: %w: recorded manifest is incremental", ErrManifestInvalid)
		}
	}
	if err := target.Validate(); err != nil {
		return nil, ChangeSet{}, fmt.Errorf("target manifest: %w", err)
	}
	full, err := Expand(installed, target)
	if err != nil {
		return nil, ChangeSet{}, fmt.Errorf("target manifest: %w", err)
	}
	if full != target {
		if err := full.Validate(); err != nil {
			return nil, ChangeSet{}, fmt.Errorf("expanded target manifest: %w", err)
		}
	}
	return full, Diff(installed, full), nil
}

// Apply makes installRoot match target, starting from installed (nil on a
// first install). Both manifests are validated before any I/O. On success
// it returns the manifest the caller must record as installed; on failure it
// returns an *ApplyError naming every failed path, or the context's error
// wrapped when cancelled. Files placed before a failure stay placed, and
// calling Apply again with the same installed manifest resumes the work.
func (u *Updater) Apply(ctx context.Context, installRoot string, installed, target *Manifest, opts ApplyOptions) (*Manifest, error) {
	full, cs, err := u.Plan(installed, target)
	if err != nil {
		return nil, err
	}

	u.logger.Info("applying release", "root", installRoot, "version", full.Version,
		"fetch", len(cs.ToFetch), "remove", len(cs.ToRemove), "fetch_bytes", cs.FetchSize())

	area, err := u.openArea(installRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: opening install root %s: %w", ErrIOFailure, installRoot, err)
	}
	defer func() {
		if err := area.Close(); err != nil {
			u.logger.Warn("closing install area", "root", installRoot, "error", err)
		}
	}()

	run := &applyRun{
		updater:  u,
		area:     area,
		target:   full,
		progress: newProgressReporter(opts.Progress, full, cs),
		byID:     make(map[ContentID][]string),
	}
	if installed != nil {
		for _, f := range installed.Files {
			run.byID[f.ID] = append(run.byID[f.ID], f.Path)
		}
	}

	early, late := splitRemovals(cs)
	run.removeAll(ctx, early)
	if !run.failed() {
		run.fetchAll(ctx, cs.ToFetch, opts.Concurrency)
	}
	if !run.failed() {
		run.removeAll(ctx, late)
	}

	stats := run.statsSnapshot()
	if run.failed() {
		applyErr := run.applyError()
		u.logger.Error("apply failed", "root", installRoot, "failures", len(applyErr.Failures),
			"fetched", stats.Fetched, "copied", stats.Copied, "skipped", stats.Skipped)
		return nil, applyErr
	}
	if err := ctx.Err(); err != nil {
		u.logger.Warn("apply cancelled", "root", installRoot, "fetched", stats.Fetched, "skipped", stats.Skipped)
		return nil, fmt.Errorf("apply cancelled: %w", err)
	}

	u.logger.Info("applied release", "root", installRoot, "version", full.Version,
		"fetched", stats.Fetched, "copied", stats.Copied, "skipped", stats.Skipped, "removed", stats.Removed)
	return full, nil
}

// splitRemovals separates removals that must happen before fetching: paths
// that sit where a fetched file needs a directory, or inside a directory a
// fetched file replaces.
func splitRemovals(cs ChangeSet) (early, late []string) {
	for _, r := range cs.ToRemove {
		collides := false
		for _, f := range cs.ToFetch {
			if strings.HasPrefix(f.Path, r+"/") || strings.HasPrefix(r, f.Path+"/") {
				collides = true
				break
			}
		}
		if collides {
			early = append(early, r)
		} else {
			late = append(late, r)
		}
	}
	return early, late
}

type applyRun struct {
	updater  *Updater
	area     InstallArea
	target   *Manifest
	progress *progressReporter
	byID     map[ContentID][]string

	mu       sync.Mutex
	failures []*FileError
	stats    applyStats
}

func (r *applyRun) fail(err error) {
	var fe *FileError
	if !errors.As(err, &fe) {
		fe = &FileError{Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, fe)
}

func (r *applyRun) failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures) > 0
}

func (r *applyRun) applyError() *ApplyError {
	r.mu.Lock()
	defer r.mu.Unlock()
	failures := append([]*FileError(nil), r.failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
	return &ApplyError{Failures: failures}
}

func (r *applyRun) count(field *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*field++
}

func (r *applyRun) statsSnapshot() applyStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// fetchAll runs one worker per entry, at most concurrency at a time. New
// files stop starting once ctx is cancelled or any file fails.
func (r *applyRun) fetchAll(ctx context.Context, entries []FileEntry, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, entry := range entries {
		if runCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}
			if err := r.applyEntry(runCtx, entry); err != nil {
				if runCtx.Err() != nil && errors.Is(err, runCtx.Err()) {
					return nil
				}
				r.updater.logger.Error("file failed", "path", entry.Path, "id", entry.ID, "error", err)
				r.fail(err)
				abort()
			}
			return nil
		})
	}
	g.Wait()
}

func (r *applyRun) applyEntry(ctx context.Context, entry FileEntry) error {
	r.progress.start(entry.Path)
	log := r.updater.logger

	if r.onDisk(entry.Path, entry) {
		log.Debug("already in place", "path", entry.Path)
		r.count(&r.stats.Skipped)
		r.progress.done(entry)
		return nil
	}

	if data := r.localCopy(entry); data != nil {
		if err := r.place(entry, data); err != nil {
			return err
		}
		log.Debug("copied from installed file", "path", entry.Path)
		r.count(&r.stats.Copied)
		r.progress.done(entry)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= decodeAttempts; attempt++ {
		compressed, err := r.updater.fetcher.Fetch(ctx, r.target, entry)
		if err != nil {
			return err
		}
		data, err := r.decode(entry, compressed)
		if err == nil {
			if err := r.place(entry, data); err != nil {
				return err
			}
			log.Debug("fetched", "path", entry.Path, "compressed_size", entry.CompressedSize)
			r.count(&r.stats.Fetched)
			r.progress.done(entry)
			return nil
		}
		lastErr = err
		log.Warn("blob rejected after decode", "path", entry.Path, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// decode decompresses a verified blob and checks the result against the
// entry. This catches faults the compressed hash cannot: a codec mismatch or
// corruption introduced by decompression.
func (r *applyRun) decode(entry FileEntry, compressed []byte) ([]byte, error) {
	data, err := r.updater.codec.Decompress(compressed)
	if err != nil {
		return nil, &FileError{Path: entry.Path, ID: entry.ID, Err: fmt.Errorf("%w: %w", ErrCorruptBlob, err)}
	}
	if int64(len(data)) != entry.Size {
		return nil, newFileError(entry, ErrIntegrityMismatch, "decompressed to %d bytes, want %d", len(data), entry.Size)
	}
	if got := HashBytes(data); got != entry.Hash {
		return nil, newFileError(entry, ErrIntegrityMismatch, "hash %s, want %s", got, entry.Hash)
	}
	return data, nil
}

func (r *applyRun) place(entry FileEntry, data []byte) error {
	if err := r.area.Place(entry.Path, data); err != nil {
		return &FileError{Path: entry.Path, ID: entry.ID, Err: fmt.Errorf("%w: %w", ErrIOFailure, err)}
	}
	return nil
}

// onDisk reports whether relPath already holds the entry's content.
func (r *applyRun) onDisk(relPath string, entry FileEntry) bool {
	state, err := entryState(r.area, relPath, entry)
	return err == nil && state == StateOK
}

// localCopy returns the entry's content read from another installed path
// that held the same id, or nil.
func (r *applyRun) localCopy(entry FileEntry) []byte {
	for _, src := range r.byID[entry.ID] {
		if src == entry.Path {
			continue
		}
		info, err := r.area.Stat(src)
		if err != nil || !info.Mode().IsRegular() || info.Size() != entry.Size {
			continue
		}
		f, err := r.area.Open(src)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err == nil && HashBytes(data) == entry.Hash {
			return data
		}
	}
	return nil
}

// removeAll deletes paths, stopping at the first failure or cancellation.
func (r *applyRun) removeAll(ctx context.Context, paths []string) {
	for _, p := range paths {
		if ctx.Err() != nil {
			return
		}
		if err := r.area.Remove(p); err != nil {
			r.updater.logger.Error("remove failed", "path", p, "error", err)
			r.fail(&FileError{Path: p, Err: fmt.Errorf("%w: %w", ErrIOFailure, err)})
			return
		}
		r.updater.logger.Debug("removed", "path", p)
		r.count(&r.stats.Removed)
	}
}
