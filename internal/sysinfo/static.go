package sysinfo

import (
	"context"
	"sync"
)

// Static is a canned Provider. It counts calls so tests can assert that a
// skipped check never reached further queries.
type Static struct {
	Identity  Identity
	EFI       bool
	Installed map[string]bool
	Err       error

	mu    sync.Mutex
	calls map[string]int
}

func (s *Static) count(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[name]++
}

// Calls returns how often the named method was invoked.
func (s *Static) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Static) IsPackageInstalled(ctx context.Context, name string) (bool, error) {
	s.count("IsPackageInstalled")
	if s.Err != nil {
		return false, s.Err
	}
	return s.Installed[name], nil
}

func (s *Static) OSIdentity(ctx context.Context) (Identity, error) {
	s.count("OSIdentity")
	if s.Err != nil {
		return Identity{}, s.Err
	}
	return s.Identity, nil
}

func (s *Static) IsEFI(ctx context.Context) (bool, error) {
	s.count("IsEFI")
	if s.Err != nil {
		return false, s.Err
	}
	return s.EFI, nil
}
