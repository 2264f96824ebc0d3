package sysinfo

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Facts is a one-shot picture of everything the engine may ask about.
type Facts struct {
	Identity Identity        `json:"identity"`
	EFI      bool            `json:"efi"`
	Packages map[string]bool `json:"packages"`
}

// Collect runs the queries concurrently. They are read-only, so ordering
// does not matter here.
func Collect(ctx context.Context, p Provider, pkgs ...string) (Facts, error) {
	var (
		facts = Facts{Packages: make(map[string]bool, len(pkgs))}
		mu    sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		id, err := p.OSIdentity(gctx)
		if err != nil {
			return err
		}
		mu.Lock()
		facts.Identity = id
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		efi, err := p.IsEFI(gctx)
		if err != nil {
			return err
		}
		mu.Lock()
		facts.EFI = efi
		mu.Unlock()
		return nil
	})
	for _, name := range pkgs {
		g.Go(func() error {
			ok, err := p.IsPackageInstalled(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			facts.Packages[name] = ok
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Facts{}, err
	}
	return facts, nil
}
