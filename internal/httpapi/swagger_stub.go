//go:build !swagger

package httpapi

import "github.com/go-chi/chi/v5"

// MountSwagger serves the API document under /swagger/ only in builds with
// -tags=swagger.
func MountSwagger(chi.Router) {}
