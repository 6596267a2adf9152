package db

import (
	"context"
	"fmt"
	"strings"
)

const preAutoMigrateSQL = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;
CREATE SCHEMA IF NOT EXISTS glint;
`

const postAutoMigrateSQL = `
CREATE INDEX IF NOT EXISTS ix_translation_cache_last_used
	ON glint.translation_cache (last_used_at);
`

func (p *Pool) migrate(ctx context.Context) error {
	tx, err := p.session(ctx)
	if err != nil {
		return err
	}
	if err := tx.Exec(strings.TrimSpace(preAutoMigrateSQL)).Error; err != nil {
		return fmt.Errorf("prepare schema: %w", err)
	}
	if err := tx.AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}
	if err := tx.Exec(strings.TrimSpace(postAutoMigrateSQL)).Error; err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}
