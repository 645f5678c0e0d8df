// Package registry turns a persisted model source into descriptors the
// session can acquire.
package registry

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"llamachat/internal/acquire"
	"llamachat/internal/common/fsutil"
)

// Resolver enumerates the models available from a source reference.
// Producing zero descriptors is a valid outcome.
type Resolver interface {
	Resolve(source string) ([]acquire.Descriptor, error)
}

// DirResolver lists *.gguf files (case-insensitive) in a source folder.
// Each becomes a granted-storage descriptor whose LocalPath is the same file
// name under TargetDir. A remote URL source yields a single remote descriptor.
type DirResolver struct {
	TargetDir string
}

func NewDirResolver(targetDir string) *DirResolver {
	return &DirResolver{TargetDir: targetDir}
}

// IsModelFile reports whether name looks like a GGUF model.
func IsModelFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".gguf")
}

func (r *DirResolver) Resolve(source string) ([]acquire.Descriptor, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	target, err := fsutil.AbsDir(r.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("target dir: %w", err)
	}
	loc := acquire.ParseLocator(source)
	if loc.Kind == acquire.LocatorRemote {
		return r.remote(loc, target)
	}
	dir, err := fsutil.AbsDir(loc.Ref)
	if err != nil {
		return nil, fmt.Errorf("source dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []acquire.Descriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !IsModelFile(name) {
			continue
		}
		out = append(out, acquire.Descriptor{
			Name:      name,
			Source:    acquire.Locator{Kind: acquire.LocatorGranted, Ref: filepath.Join(dir, name)},
			LocalPath: filepath.Join(target, name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *DirResolver) remote(loc acquire.Locator, target string) ([]acquire.Descriptor, error) {
	u, err := url.Parse(loc.Ref)
	if err != nil {
		return nil, fmt.Errorf("source url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || !IsModelFile(name) {
		return nil, nil
	}
	return []acquire.Descriptor{{
		Name:      name,
		Source:    loc,
		LocalPath: filepath.Join(target, name),
	}}, nil
}

// Find returns the descriptor named name.
func Find(ds []acquire.Descriptor, name string) (acquire.Descriptor, bool) {
	for _, d := range ds {
		if d.Name == name {
			return d, true
		}
	}
	return acquire.Descriptor{}, false
}
