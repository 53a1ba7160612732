package termaway

import "runtime/debug"

// baseVersion is the release version; dev builds append VCS metadata
// when the build carries it.
const baseVersion = "0.1.0"

func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return baseVersion
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if revision == "" {
		return baseVersion
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	v := baseVersion + "+" + revision
	if dirty {
		v += "-dirty"
	}
	return v
}
