package registry

import (
	"fmt"
	"strings"

	"llamachat/internal/acquire"
	"llamachat/internal/prefs"
)

// Catalog ties the persisted model source to a Resolver.
type Catalog struct {
	store    prefs.Store
	resolver Resolver
	fallback string
}

// NewCatalog returns a Catalog. fallback is used while no source has been
// persisted yet.
func NewCatalog(store prefs.Store, r Resolver, fallback string) *Catalog {
	return &Catalog{store: store, resolver: r, fallback: fallback}
}

// Source returns the persisted source, or the fallback.
func (c *Catalog) Source() (string, error) {
	v, ok, err := c.store.Get(prefs.KeyModelsURI)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(v) == "" {
		return c.fallback, nil
	}
	return v, nil
}

// SetSource resolves src and, if that works, persists it. The resolved
// descriptors are returned; an empty list is not an error.
func (c *Catalog) SetSource(src string) ([]acquire.Descriptor, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("source is empty")
	}
	ds, err := c.resolver.Resolve(src)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(prefs.KeyModelsURI, src); err != nil {
		return nil, fmt.Errorf("persist source: %w", err)
	}
	return ds, nil
}

// Models resolves the current source.
func (c *Catalog) Models() ([]acquire.Descriptor, error) {
	src, err := c.Source()
	if err != nil {
		return nil, err
	}
	return c.resolver.Resolve(src)
}

// Lookup finds the model called name in the current source.
func (c *Catalog) Lookup(name string) (acquire.Descriptor, error) {
	ds, err := c.Models()
	if err != nil {
		return acquire.Descriptor{}, err
	}
	if d, ok := Find(ds, name); ok {
		return d, nil
	}
	return acquire.Descriptor{}, ErrModelNotFound(name)
}
