package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"relsync/internal/config"
	"relsync/internal/database"
	"relsync/internal/release"
	"relsync/internal/testutil"
	"relsync/internal/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Updater.FetchAttempts = 2
	cfg.Updater.FetchBackoffInitialMS = 1
	cfg.Updater.FetchBackoffMaxMS = 1
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string, opts ...Option) *ReleaseApp {
	t.Helper()
	opts = append([]Option{
		WithConsole(io.Discard),
		WithClock(testutil.FixedClock()),
		WithIDGenerator(testutil.NewStubIDGenerator()),
	}, opts...)
	a, err := NewReleaseApp(context.Background(), cfg, operation, map[string]string{"test": t.Name()}, opts...)
	if err != nil {
		t.Fatalf("NewReleaseApp() error = %v", err)
	}
	return a
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, content := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func assertTree(t *testing.T, root string, want map[string]string) {
	t.Helper()
	for p, content := range want {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			t.Errorf("reading %s: %v", p, err)
			continue
		}
		if string(got) != content {
			t.Errorf("%s = %q, want %q", p, got, content)
		}
	}
}

// packVersion runs a pack in its own app, as the CLI does.
func packVersion(t *testing.T, cfg *config.Config, src, version, diffFrom string) *PackResult {
	t.Helper()
	a := newTestApp(t, cfg, "pack")
	defer a.Close()
	res, err := a.Pack(context.Background(), src, version, diffFrom)
	if err != nil {
		t.Fatalf("Pack(%s) error = %v", version, err)
	}
	return res
}

func manifestURL(t *testing.T, cfg *config.Config, name string) string {
	t.Helper()
	a := newTestApp(t, cfg, "url")
	defer a.Close()
	u, err := a.ManifestURL(name)
	if err != nil {
		t.Fatalf("ManifestURL() error = %v", err)
	}
	return u
}

func TestReleaseApp_PackApplyStatus(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	install := t.TempDir()
	ctx := context.Background()

	v1 := map[string]string{
		"app.exe":          "binary v1",
		"data/config.json": `{"v":1}`,
		"data/old.txt":     "going away",
	}
	writeTree(t, src, v1)

	res := packVersion(t, cfg, src, "1.0", "")
	if len(res.Published) != 1 || res.Published[0] != "manifest_1.0_x64_portable.json" {
		t.Fatalf("Published = %v", res.Published)
	}
	if res.Stats.Files != 3 || res.Stats.Written != 3 {
		t.Errorf("Stats = %+v, want 3 files written", res.Stats)
	}

	a := newTestApp(t, cfg, "apply")
	m, err := a.Apply(ctx, install, manifestURL(t, cfg, res.Published[0]), "", 2, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if m.Version != "1.0" {
		t.Errorf("applied version = %q", m.Version)
	}
	assertTree(t, install, v1)

	status, err := a.Status(ctx, install)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Installed == nil || status.Installed.Manifest.Version != "1.0" {
		t.Fatalf("Status().Installed = %+v", status.Installed)
	}
	for _, f := range status.Files {
		if f.State != release.StateOK {
			t.Errorf("%s state = %s, want ok", f.Path, f.State)
		}
	}
	a.Close()

	// Modify one file on disk; status must notice.
	writeTree(t, install, map[string]string{"app.exe": "tampered"})
	a = newTestApp(t, cfg, "status")
	status, err = a.Status(ctx, install)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	states := map[string]release.FileState{}
	for _, f := range status.Files {
		states[f.Path] = f.State
	}
	if states["app.exe"] != release.StateModified {
		t.Errorf("app.exe state = %s, want modified", states["app.exe"])
	}
	a.Close()

	// Version 2 with an incremental manifest from 1.0.
	v2 := map[string]string{
		"app.exe":          "binary v2",
		"data/config.json": `{"v":1}`,
		"data/new.txt":     "fresh",
	}
	if err := os.Remove(filepath.Join(src, "data", "old.txt")); err != nil {
		t.Fatal(err)
	}
	writeTree(t, src, v2)

	res = packVersion(t, cfg, src, "2.0", "1.0")
	if len(res.Published) != 2 || res.Published[1] != "manifest_2.0_x64_portable_from_1.0.json" {
		t.Fatalf("Published = %v", res.Published)
	}
	if res.Stats.Reused != 1 {
		t.Errorf("Reused = %d, want 1", res.Stats.Reused)
	}

	a = newTestApp(t, cfg, "apply")
	m, err = a.Apply(ctx, install, manifestURL(t, cfg, res.Published[1]), "", 0, nil)
	if err != nil {
		t.Fatalf("Apply(incremental) error = %v", err)
	}
	if m.IsIncremental() || m.Version != "2.0" || m.FileCount != 3 {
		t.Errorf("recorded manifest = version %q incremental %v files %d", m.Version, m.IsIncremental(), m.FileCount)
	}
	assertTree(t, install, v2)
	if _, err := os.Stat(filepath.Join(install, "data", "old.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("old.txt still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(install, ".relsync-staging")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("staging dir left behind: %v", err)
	}

	installed, err := a.Installed()
	if err != nil {
		t.Fatalf("Installed() error = %v", err)
	}
	if len(installed) != 1 || installed[0].Manifest.Version != "2.0" {
		t.Errorf("Installed() = %+v", installed)
	}

	ops, err := a.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	a.Close()

	// The running apply is still listed as running; status never persists.
	wantOps := []string{"apply", "pack", "apply", "pack"}
	if len(ops) != len(wantOps) {
		t.Fatalf("History() returned %d ops, want %d", len(ops), len(wantOps))
	}
	for i, op := range ops {
		if op.Operation != wantOps[i] {
			t.Errorf("op[%d] = %q, want %q", i, op.Operation, wantOps[i])
		}
	}
	if ops[0].Status != database.StatusRunning {
		t.Errorf("current op status = %q, want running", ops[0].Status)
	}
	if ops[1].Status != database.StatusSuccess {
		t.Errorf("finished op status = %q, want success", ops[1].Status)
	}
}

func TestReleaseApp_ApplyFailureIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	res := packVersion(t, cfg, src, "1.0", "")

	// Remove every blob so the fetch fails.
	if err := os.RemoveAll(filepath.Join(cfg.Store.FSRoot, "file")); err != nil {
		t.Fatal(err)
	}

	install := t.TempDir()
	a := newTestApp(t, cfg, "apply")
	_, err := a.Apply(context.Background(), install, manifestURL(t, cfg, res.Published[0]), "", 1, nil)
	var applyErr *release.ApplyError
	if !errors.As(err, &applyErr) {
		t.Fatalf("Apply() error = %v, want *release.ApplyError", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	a = newTestApp(t, cfg, "history")
	defer a.Close()
	ops, err := a.History(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Status != database.StatusFailed {
		t.Errorf("last op = %+v, want failed apply", ops)
	}
	installed, err := a.Installed()
	if err != nil {
		t.Fatal(err)
	}
	if len(installed) != 0 {
		t.Errorf("failed apply recorded an install: %+v", installed)
	}
}

func TestReleaseApp_PlanWithReleaseInfo(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	src := t.TempDir()
	install := t.TempDir()

	writeTree(t, src, map[string]string{"a.txt": "one", "b.txt": "two"})
	v1 := packVersion(t, cfg, src, "1.0", "")
	writeTree(t, src, map[string]string{"b.txt": "two, revised"})
	v2 := packVersion(t, cfg, src, "2.0", "1.0")

	info := release.ReleaseInfo{
		Version: "2.0",
		Releases: map[string]*release.ReleaseDetail{
			release.ReleaseKey("x64", "portable"): {
				Version:           "2.0",
				Architecture:      "x64",
				InstallType:       "portable",
				DisableAutoUpdate: true,
				ManifestURL:       manifestURL(t, cfg, v2.Published[0]),
				PackageURL:        "https://releases.test/full.zip",
				PackageSize:       1,
				Diffs: map[string]*release.ReleaseDiff{
					"1.0": {DiffVersion: "1.0", ManifestURL: manifestURL(t, cfg, v2.Published[1])},
				},
			},
		},
	}
	infoPath := filepath.Join(t.TempDir(), "releases.json")
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(infoPath, data, 0644); err != nil {
		t.Fatal(err)
	}
	infoURL, err := transport.FileURL(filepath.Dir(infoPath))
	if err != nil {
		t.Fatal(err)
	}
	infoURL += "releases.json"

	a := newTestApp(t, cfg, "apply")
	if _, err := a.Apply(ctx, install, manifestURL(t, cfg, v1.Published[0]), "", 1, nil); err != nil {
		t.Fatalf("Apply(1.0) error = %v", err)
	}

	plan, err := a.Plan(ctx, install, "", infoURL)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	a.Close()

	if plan.Installed == nil || plan.Installed.Version != "1.0" {
		t.Fatalf("plan.Installed = %+v", plan.Installed)
	}
	if plan.Target.IsIncremental() || plan.Target.Version != "2.0" {
		t.Errorf("plan.Target = version %q incremental %v", plan.Target.Version, plan.Target.IsIncremental())
	}
	if len(plan.Changes.ToFetch) != 1 || plan.Changes.ToFetch[0].Path != "b.txt" {
		t.Errorf("ToFetch = %+v, want only b.txt", plan.Changes.ToFetch)
	}
	if !plan.AutoUpdateDisabled {
		t.Error("AutoUpdateDisabled = false")
	}
	if plan.Strategy != release.StrategyFullPackage {
		t.Errorf("Strategy = %s, want full-package for a 1 byte package", plan.Strategy)
	}
}

func TestReleaseApp_PackRequiresURLPrefixOffFilesystem(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Type = "memory"

	a := newTestApp(t, cfg, "pack")
	defer a.Close()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	if _, err := a.Pack(context.Background(), src, "1.0", ""); err == nil {
		t.Fatal("Pack() without url_prefix on a memory store succeeded")
	}
}

func TestReleaseApp_SealedRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.Codec.Sealed = true
	cfg.Encryption.Type = "test"
	ctx := context.Background()

	src := t.TempDir()
	files := map[string]string{"secret.bin": "classified payload"}
	writeTree(t, src, files)
	res := packVersion(t, cfg, src, "1.0", "")

	install := t.TempDir()
	a := newTestApp(t, cfg, "apply", WithPassphrase(func() (string, error) { return "pw", nil }))
	defer a.Close()
	if _, err := a.Apply(ctx, install, manifestURL(t, cfg, res.Published[0]), "", 1, nil); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	assertTree(t, install, files)
}
