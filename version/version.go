package version

import (
	"runtime/debug"
	"strconv"
)

const defaultVersion = "v0.0.0+unknown"

var (
	// Package is the canonical import path; overridable at link time.
	Package = "github.com/nanshuiyu/pytools"

	// Version is the release version, set at link time.
	Version = defaultVersion

	// Revision is the VCS commit the binary was built from, with a ".m"
	// suffix when the tree was dirty. Set at link time or recovered from
	// the embedded build info.
	Revision = ""
)

func init() {
	if Revision != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	var revision string
	var modified bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified, _ = strconv.ParseBool(s.Value)
		}
	}
	if revision == "" {
		return
	}

	Revision = revision
	if modified {
		Revision += ".m"
	}
}
