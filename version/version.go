package version

import "runtime/debug"

// Version is set at build time using something like:
// go build -ldflags "-X github.com/strumlab/strum/version.Version=$(git describe --dirty)"
var Version string

// String returns the version to show the user: the version injected at build
// time when there is one, otherwise the vcs revision from the build info.
func String() string {
	if Version != "" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var revision string
	var modified bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if revision != "" && modified {
		revision += "-dirty"
	}
	return revision
}
