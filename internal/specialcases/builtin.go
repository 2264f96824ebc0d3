package specialcases

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/lyndonlyu/distroconv/internal/config"
	"github.com/lyndonlyu/distroconv/internal/restorable"
	"github.com/lyndonlyu/distroconv/internal/sysinfo"
)

const (
	OpenJDKCase = "openjdk-rpm-state-dir"
	ShimCase    = "unprotect-shim-x64"
)

// Builtin returns the shipped cases in their fixed run order, with host
// paths resolved against the configured root.
func Builtin(cfg *config.Config) []Case {
	sc := cfg.SpecialCases
	return []Case{
		OpenJDKStateDir(sc.OpenJDK.Package, cfg.Path(sc.OpenJDK.StateDir)),
		UnprotectShim(sc.Shim.Distro, sc.Shim.Major, cfg.Path(sc.Shim.ProtectionFile)),
	}
}

// Default builds a registry holding the builtin cases that are not listed
// under special_cases.disabled.
func Default(env Env, cfg *config.Config, opts ...Option) (*Registry, error) {
	r := NewRegistry(env, opts...)
	for _, c := range Builtin(cfg) {
		if slices.Contains(cfg.SpecialCases.Disabled, c.Name) {
			r.env.Log.Info("special case disabled by configuration", "case", c.Name)
			continue
		}
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// OpenJDKStateDir creates the directory that the package's rpm scriptlets
// write into during the swap. The directory is left in place on rollback.
func OpenJDKStateDir(pkg, dir string) Case {
	return Case{
		Name:        OpenJDKCase,
		Description: fmt.Sprintf("create %s for %s scriptlets", dir, pkg),
		Severity:    SeverityWarn,
		Precondition: func(ctx context.Context, q sysinfo.Provider) (bool, string, error) {
			ok, err := q.IsPackageInstalled(ctx, pkg)
			if err != nil {
				return false, "", err
			}
			if !ok {
				return false, fmt.Sprintf("%s is not installed", pkg), nil
			}
			return true, "", nil
		},
		Action: func(ctx context.Context, env Env) (string, error) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("specialcases: unable to create the %s directory: %w", dir, err)
			}
			return "ensured " + dir, nil
		},
	}
}

// UnprotectShim removes the yum protection entry for shim-x64 so the
// package can be swapped on UEFI hosts of one distro release.
func UnprotectShim(distro string, major int, path string) Case {
	return Case{
		Name:        ShimCase,
		Description: fmt.Sprintf("remove %s on %s %d UEFI hosts", path, distro, major),
		Severity:    SeverityWarn,
		Precondition: func(ctx context.Context, q sysinfo.Provider) (bool, string, error) {
			id, err := q.OSIdentity(ctx)
			if err != nil {
				return false, "", err
			}
			if !id.Is(distro, major) {
				return false, fmt.Sprintf("relevant to %s %d only", distro, major), nil
			}
			efi, err := q.IsEFI(ctx)
			if err != nil {
				return false, "", err
			}
			if !efi {
				return false, "relevant to UEFI firmware only", nil
			}
			return true, "", nil
		},
		Action: func(ctx context.Context, env Env) (string, error) {
			if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
				env.Log.Info("protection file already absent", "resource", path)
				return "already absent", nil
			}
			f, err := env.Resources.NewFile(path)
			if err != nil {
				// Nothing was touched yet.
				return "", &restorable.BackupError{Identity: path, Err: err}
			}
			err = restorable.Mutate(f, func() error { return os.Remove(path) })
			var ae *restorable.ActionError
			if errors.As(err, &ae) && errors.Is(err, fs.ErrNotExist) {
				return "already absent", nil
			}
			if err != nil {
				return "", err
			}
			return "removed " + path, nil
		},
	}
}
