// Package sysinfo answers read-only questions about the host: which
// distribution and version it runs, whether a package is installed, and
// whether it booted with EFI firmware.
package sysinfo

import (
	"context"
	"fmt"
)

// Provider is the query surface the engine consumes. Implementations must
// not change anything observable on the host.
type Provider interface {
	IsPackageInstalled(ctx context.Context, name string) (bool, error)
	OSIdentity(ctx context.Context) (Identity, error)
	IsEFI(ctx context.Context) (bool, error)
}

// Identity is the distribution id and version, e.g. ("ol", 7, 9).
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Major int    `json:"major"`
	Minor int    `json:"minor"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%s %d.%d", i.ID, i.Major, i.Minor)
}

// Is reports whether the identity matches id and major version.
func (i Identity) Is(id string, major int) bool {
	return i.ID == id && i.Major == major
}
