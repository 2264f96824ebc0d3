package main

import (
	"fmt"

	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/statedb"
)

func openStore() (*statedb.DB, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	db, err := statedb.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return db, nil
}

func openAudit() (*audit.Logger, error) {
	l, err := audit.NewLogger(cfg.AuditDir())
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	return l, nil
}
