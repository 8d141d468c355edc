package utils

import (
	"fmt"
	"runtime/debug"
)

// set with -ldflags "-X github.com/ethpandaops/bankwatch/utils.BuildVersion=..."
var (
	BuildVersion string
	BuildRelease string
)

// GetBuildVersion reports the release and git revision of the binary. Without ldflags the
// revision is taken from the vcs info the go toolchain embeds.
func GetBuildVersion() string {
	revision := BuildVersion
	if revision == "" {
		revision = vcsRevision()
	}

	switch {
	case BuildRelease != "":
		return fmt.Sprintf("%v (git-%v)", BuildRelease, revision)
	case revision != "":
		return "git-" + revision
	default:
		return "dev"
	}
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return ""
}
