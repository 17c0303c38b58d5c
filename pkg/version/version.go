package version

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/tencdm/tencdm/pkg/version.Version=v0.1.0" and friends.
var (
	Version    = ""
	CommitHash = ""
	BuildDate  = ""
)

const unknown = "unknown"

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
}

// Get prefers linker-injected values and falls back to the module build info.
func Get() Info {
	return resolve(debug.ReadBuildInfo())
}

func resolve(bi *debug.BuildInfo, ok bool) Info {
	info := Info{Version: Version, CommitHash: CommitHash, BuildDate: BuildDate}
	if ok && bi != nil {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.CommitHash == "":
				info.CommitHash = s.Value
			case s.Key == "vcs.time" && info.BuildDate == "":
				info.BuildDate = s.Value
			}
		}
	}
	for _, f := range []*string{&info.Version, &info.CommitHash, &info.BuildDate} {
		if *f == "" {
			*f = unknown
		}
	}
	return info
}

func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.CommitHash, i.BuildDate)
}
