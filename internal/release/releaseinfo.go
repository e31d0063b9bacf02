package release

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ReleaseInfo is the release index a server publishes next to its manifests.
// Releases is keyed by ReleaseKey.
type ReleaseInfo struct {
	Version  string                    `json:"version"`
	Releases map[string]*ReleaseDetail `json:"releases"`
}

// ReleaseDetail describes one architecture and install type of a release,
// including the full package used by the legacy installer.
type ReleaseDetail struct {
	Version           string    `json:"version"`
	Architecture      string    `json:"architecture"`
	InstallType       string    `json:"install_type"`
	BuildTime         time.Time `json:"build_time"`
	DisableAutoUpdate bool      `json:"disable_auto_update"`

	PackageURL  string `json:"package_url"`
	PackageSize int64  `json:"package_size"`
	PackageHash string `json:"package_hash"`

	ManifestURL string `json:"manifest_url"`

	// Diffs holds incremental manifests keyed by the version they start from.
	Diffs map[string]*ReleaseDiff `json:"diffs,omitempty"`
}

// ReleaseDiff points at an incremental manifest.
type ReleaseDiff struct {
	DiffVersion string `json:"diff_version"`
	ManifestURL string `json:"manifest_url"`
}

// ReleaseKey returns the Releases key for an architecture and install type.
func ReleaseKey(architecture, installType string) string {
	return strings.ToLower(architecture + "-" + installType)
}

// Detail looks up the release for an architecture and install type.
func (ri *ReleaseInfo) Detail(architecture, installType string) (*ReleaseDetail, bool) {
	if ri == nil || ri.Releases == nil {
		return nil, false
	}
	d, ok := ri.Releases[ReleaseKey(architecture, installType)]
	return d, ok && d != nil
}

// ManifestURLFor returns the incremental manifest from installedVersion
// when one is published, and the full manifest otherwise.
func (d *ReleaseDetail) ManifestURLFor(installedVersion string) string {
	if installedVersion != "" {
		if diff, ok := d.Diffs[installedVersion]; ok && diff != nil && diff.ManifestURL != "" {
			return diff.ManifestURL
		}
	}
	return d.ManifestURL
}

// DecodeReleaseInfo reads a release index.
func DecodeReleaseInfo(r io.Reader) (*ReleaseInfo, error) {
	var ri ReleaseInfo
	if err := json.NewDecoder(r).Decode(&ri); err != nil {
		return nil, fmt.Errorf("decoding release info: %w", err)
	}
	return &ri, nil
}

// Strategy is how a client should reach a release.
type Strategy int

const (
	// StrategyIncremental fetches only the changed files.
	StrategyIncremental Strategy = iota
	// StrategyFullPackage downloads the release's full package instead.
	StrategyFullPackage
)

func (s Strategy) String() string {
	switch s {
	case StrategyIncremental:
		return "incremental"
	case StrategyFullPackage:
		return "full-package"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ChooseStrategy picks the full package only when one is published and it is
// smaller than what the change set would transfer. On a first install the
// change set covers the whole target, so this compares against the target's
// compressed size.
func ChooseStrategy(detail *ReleaseDetail, cs ChangeSet) Strategy {
	if detail == nil || detail.PackageURL == "" || detail.PackageSize <= 0 {
		return StrategyIncremental
	}
	if detail.PackageSize < cs.FetchSize() {
		return StrategyFullPackage
	}
	return StrategyIncremental
}
