package sysinfo

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lyndonlyu/distroconv/internal/retry"
)

var (
	ErrNoSystemRelease = errors.New("sysinfo: /etc/system-release not found")
	ErrNoOSRelease     = errors.New("sysinfo: /etc/os-release not found")
)

// Host queries the running system, or a system image mounted at Root.
type Host struct {
	Root string
	// RPM is the rpm binary; tests point it at a stub.
	RPM string
	// Retry applies while another process holds the rpm database.
	Retry retry.Policy
}

func NewHost(root string) *Host {
	if root == "" {
		root = "/"
	}
	return &Host{Root: root, RPM: "rpm", Retry: retry.DefaultPolicy()}
}

func (h *Host) path(p string) string {
	return filepath.Join(h.Root, p)
}

// IsPackageInstalled runs `rpm -q --quiet name`. Exit status 1 with nothing
// on stderr means not installed; a locked database is retried.
func (h *Host) IsPackageInstalled(ctx context.Context, name string) (bool, error) {
	args := []string{"-q", "--quiet"}
	if h.Root != "/" {
		args = append(args, "--root", h.Root)
	}
	args = append(args, name)

	ok, err := retry.Execute(ctx, h.Retry, func() (bool, error, retry.ErrorKind) {
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, h.RPM, args...)
		cmd.Stderr = &stderr
		err := cmd.Run()
		if err == nil {
			return true, nil, retry.Retriable
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if code == 1 && stderr.Len() == 0 {
				return false, nil, retry.Retriable
			}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return false, err, retry.Classify(err, code, msg)
	})
	if err != nil {
		return false, fmt.Errorf("sysinfo: rpm query %s: %w", name, err)
	}
	return ok, nil
}

// OSIdentity reads os-release. system-release must also exist; without it
// the host is not a distribution this tool can convert.
func (h *Host) OSIdentity(ctx context.Context) (Identity, error) {
	if _, err := os.Stat(h.path("/etc/system-release")); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Identity{}, ErrNoSystemRelease
		}
		return Identity{}, fmt.Errorf("sysinfo: stat system-release: %w", err)
	}

	f, err := os.Open(h.path("/etc/os-release"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Identity{}, ErrNoOSRelease
		}
		return Identity{}, fmt.Errorf("sysinfo: open os-release: %w", err)
	}
	defer f.Close()

	vals, err := parseOSRelease(f)
	if err != nil {
		return Identity{}, err
	}
	major, minor, err := parseVersion(vals["VERSION_ID"])
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: vals["ID"], Name: vals["NAME"], Major: major, Minor: minor}, nil
}

// IsEFI reports whether the kernel exposes EFI runtime services.
func (h *Host) IsEFI(ctx context.Context) (bool, error) {
	info, err := os.Stat(h.path("/sys/firmware/efi"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("sysinfo: stat efi: %w", err)
	}
	return info.IsDir(), nil
}

// parseOSRelease reads the KEY=value format of os-release(5).
func parseOSRelease(f *os.File) (map[string]string, error) {
	vals := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if uq, err := strconv.Unquote(val); err == nil {
			val = uq
		} else {
			val = strings.Trim(val, `'"`)
		}
		vals[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sysinfo: read os-release: %w", err)
	}
	return vals, nil
}

func parseVersion(v string) (int, int, error) {
	if v == "" {
		return 0, 0, errors.New("sysinfo: os-release has no VERSION_ID")
	}
	majStr, minStr, _ := strings.Cut(v, ".")
	major, err := strconv.Atoi(majStr)
	if err != nil {
		return 0, 0, fmt.Errorf("sysinfo: bad VERSION_ID %q: %w", v, err)
	}
	minor := 0
	if minStr != "" {
		if minor, err = strconv.Atoi(strings.SplitN(minStr, ".", 2)[0]); err != nil {
			return 0, 0, fmt.Errorf("sysinfo: bad VERSION_ID %q: %w", v, err)
		}
	}
	return major, minor, nil
}
