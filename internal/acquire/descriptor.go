// Package acquire turns a model Descriptor into a ready local model file.
//
// A Descriptor names the model, where it may be obtained from (its Locator)
// and the local path the inference engine will load. Resolve performs at most
// one copy or download, and only when the local file is absent or empty.
package acquire

import (
	"net/url"
	"strings"
)

// LocatorKind selects the acquisition strategy for a Descriptor.
type LocatorKind int

const (
	// LocatorNone means the model is expected to be resident at LocalPath.
	LocatorNone LocatorKind = iota
	// LocatorGranted is a reference into user-granted storage, opened through a StorageOpener.
	LocatorGranted
	// LocatorRemote is an http(s) URL fetched through a Downloader.
	LocatorRemote
)

func (k LocatorKind) String() string {
	switch k {
	case LocatorNone:
		return "none"
	case LocatorGranted:
		return "granted"
	case LocatorRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Locator identifies where a model can be acquired from.
type Locator struct {
	Kind LocatorKind
	Ref  string
}

// ParseLocator classifies a raw source reference. Empty input is LocatorNone,
// http and https URLs are LocatorRemote and anything else (paths, file:// URLs)
// is LocatorGranted.
func ParseLocator(raw string) Locator {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{Kind: LocatorNone}
	}
	if u, err := url.Parse(raw); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return Locator{Kind: LocatorRemote, Ref: raw}
		case "file":
			return Locator{Kind: LocatorGranted, Ref: u.Path}
		}
	}
	return Locator{Kind: LocatorGranted, Ref: raw}
}

// Descriptor identifies a model's source and its target local path.
// It is a value type; nothing in this package modifies one.
type Descriptor struct {
	Name      string
	Source    Locator
	LocalPath string
}
