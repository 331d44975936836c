package versioning

import (
	"fmt"
	"regexp"
	"runtime"
	"strconv"
)

// APIVersion is a semantic version of the REST and realtime protocol.
type APIVersion struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
}

// String returns the version as a string (e.g., "1.2.3" or "1.2.3-beta")
func (v APIVersion) String() string {
	version := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		version += "-" + v.Prerelease
	}
	return version
}

// Compare returns -1 if v < other, 0 if equal and 1 if v > other.
// A release sorts after any prerelease of the same version.
func (v APIVersion) Compare(other APIVersion) int {
	for _, d := range [3][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}} {
		if d[0] < d[1] {
			return -1
		}
		if d[0] > d[1] {
			return 1
		}
	}

	switch {
	case v.Prerelease == other.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	case v.Prerelease < other.Prerelease:
		return -1
	default:
		return 1
	}
}

var (
	V1_0_0 = APIVersion{Major: 1, Minor: 0, Patch: 0}
	V1_1_0 = APIVersion{Major: 1, Minor: 1, Patch: 0}
)

// CurrentVersion is the protocol version served by this build.
var CurrentVersion = V1_1_0

// MinimumSupportedVersion is the oldest protocol version clients may request.
var MinimumSupportedVersion = V1_0_0

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-([a-zA-Z0-9\-\.]+))?$`)

// ParseVersion parses "major.minor.patch[-prerelease]".
func ParseVersion(versionStr string) (APIVersion, error) {
	matches := versionPattern.FindStringSubmatch(versionStr)
	if matches == nil {
		return APIVersion{}, fmt.Errorf("invalid version format: %s", versionStr)
	}

	var parts [3]int
	for i := range parts {
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return APIVersion{}, fmt.Errorf("invalid version component %q: %w", matches[i+1], err)
		}
		parts[i] = n
	}

	return APIVersion{Major: parts[0], Minor: parts[1], Patch: parts[2], Prerelease: matches[4]}, nil
}

// IsVersionSupported reports whether clients may use version.
func IsVersionSupported(version APIVersion) bool {
	return version.Compare(MinimumSupportedVersion) >= 0 && version.Major <= CurrentVersion.Major
}

// GetVersionRange returns the supported version range as a string
func GetVersionRange() string {
	return fmt.Sprintf("%s - %s", MinimumSupportedVersion.String(), CurrentVersion.String())
}

// Feature names a protocol capability and the version that introduced it.
type Feature struct {
	Name         string     `json:"name"`
	IntroducedIn APIVersion `json:"introduced_in"`
	Description  string     `json:"description"`
}

// Features lists the protocol capabilities in the order they shipped.
var Features = []Feature{
	{Name: "messages", IntroducedIn: V1_0_0, Description: "Send, reply, edit, react, read and soft delete"},
	{Name: "realtime", IntroducedIn: V1_0_0, Description: "Websocket relay of messages, typing and presence"},
	{Name: "media", IntroducedIn: V1_0_0, Description: "Image, video, audio and file uploads"},
	{Name: "delivery_events", IntroducedIn: V1_1_0, Description: "message:delivered and message:update realtime events"},
	{Name: "user_search", IntroducedIn: V1_1_0, Description: "User listing and search"},
}

// SupportedFeatures returns the features available to clients on version.
func SupportedFeatures(version APIVersion) []Feature {
	var out []Feature
	for _, f := range Features {
		if version.Compare(f.IntroducedIn) >= 0 {
			out = append(out, f)
		}
	}
	return out
}

// BuildInfo describes the running binary. main fills Build, Commit and
// BuildTime from linker flags.
type BuildInfo struct {
	API       APIVersion `json:"api_version"`
	Build     string     `json:"build_version"`
	Commit    string     `json:"git_commit,omitempty"`
	BuildTime string     `json:"build_time,omitempty"`
	GoVersion string     `json:"go_version"`
	Features  []Feature  `json:"features"`
}

// NewBuildInfo returns build information for the current protocol version.
func NewBuildInfo(build, commit, buildTime string) BuildInfo {
	if build == "" {
		build = CurrentVersion.String()
	}
	return BuildInfo{
		API:       CurrentVersion,
		Build:     build,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Features:  SupportedFeatures(CurrentVersion),
	}
}
