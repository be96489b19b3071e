// Package version reports build information.
//
// Release builds inject it with ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/roomchat/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/roomchat/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/roomchat/pkg/version.date=2026-01-01"
//
// Without ldflags the VCS revision recorded by the Go toolchain is used.
package version

import (
	"runtime/debug"
	"sync"
)

var (
	tag    = ""
	commit = ""
	date   = ""
)

// Info is the build identity of the running binary.
type Info struct {
	Tag    string `json:"tag,omitempty"`
	Commit string `json:"commit,omitempty"`
	Date   string `json:"date,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

var (
	once   sync.Once
	cached Info
)

// Get returns the build info, reading debug.BuildInfo once.
func Get() Info {
	once.Do(func() {
		cached = Info{Tag: tag, Commit: commit, Date: date}
		if cached.Commit != "" {
			return
		}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				cached.Commit = s.Value
				if len(cached.Commit) > 7 {
					cached.Commit = cached.Commit[:7]
				}
			case "vcs.time":
				if cached.Date == "" {
					cached.Date = s.Value
				}
			case "vcs.modified":
				cached.Dirty = s.Value == "true"
			}
		}
	})
	return cached
}

// String is the short form: the tag, else the commit, else "dev".
func (i Info) String() string {
	switch {
	case i.Tag != "":
		return i.Tag
	case i.Commit != "":
		if i.Dirty {
			return i.Commit + "-dirty"
		}
		return i.Commit
	default:
		return "dev"
	}
}

// Full adds commit and build date to String when they are known.
func (i Info) Full() string {
	s := i.String()
	if i.Tag != "" && i.Commit != "" {
		s += " (" + i.Commit + ")"
	}
	if i.Date != "" {
		s += " built " + i.Date
	}
	return s
}

// String is shorthand for Get().String().
func String() string { return Get().String() }

// Full is shorthand for Get().Full().
func Full() string { return Get().Full() }
