package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CachedTranslation is one persisted translation.
type CachedTranslation struct {
	SourceLang     string
	TargetLang     string
	OriginalText   string
	TranslatedText string
	Engine         string
	ModelName      *string
	HitCount       int64
	CreatedAt      time.Time
}

// SaveTranslationParams controls cache upserts.
type SaveTranslationParams struct {
	SourceLang     string
	TargetLang     string
	OriginalText   string
	TranslatedText string
	Engine         string
	ModelName      string
	LatencyMS      int
}

// CacheStats summarizes the persistent tier.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
}

// TextHash is the key digest stored in text_hash.
func TextHash(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return sum[:]
}

// LookupTranslation returns the cached translation for the pair and text, or
// nil when there is none. A hit bumps hit_count and last_used_at.
func (p *Pool) LookupTranslation(ctx context.Context, sourceLang, targetLang, text string) (*CachedTranslation, error) {
	const q = `
UPDATE glint.translation_cache
SET hit_count = hit_count + 1,
	last_used_at = now()
WHERE source_lang = $1
  AND target_lang = $2
  AND text_hash = $3
  AND original_text = $4
RETURNING
	source_lang,
	target_lang,
	original_text,
	translated_text,
	engine,
	model_name,
	hit_count,
	created_at
`

	tx, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	var row CachedTranslation
	err = tx.Raw(q, cacheLang(sourceLang), cacheLang(targetLang), TextHash(text), text).Row().Scan(
		&row.SourceLang,
		&row.TargetLang,
		&row.OriginalText,
		&row.TranslatedText,
		&row.Engine,
		&row.ModelName,
		&row.HitCount,
		&row.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query translation cache: %w", err)
	}
	return &row, nil
}

// SaveTranslation upserts one translation.
func (p *Pool) SaveTranslation(ctx context.Context, row SaveTranslationParams) error {
	const q = `
INSERT INTO glint.translation_cache (
	source_lang,
	target_lang,
	text_hash,
	original_text,
	translated_text,
	engine,
	model_name,
	latency_ms
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (source_lang, target_lang, text_hash)
DO UPDATE SET
	original_text = EXCLUDED.original_text,
	translated_text = EXCLUDED.translated_text,
	engine = EXCLUDED.engine,
	model_name = EXCLUDED.model_name,
	latency_ms = EXCLUDED.latency_ms,
	last_used_at = now()
`

	if strings.TrimSpace(row.TranslatedText) == "" {
		return fmt.Errorf("translated text is required")
	}
	tx, err := p.session(ctx)
	if err != nil {
		return err
	}

	var modelName *string
	if m := strings.TrimSpace(row.ModelName); m != "" {
		modelName = &m
	}
	var latency *int
	if row.LatencyMS > 0 {
		latency = &row.LatencyMS
	}

	if err := tx.Exec(
		q,
		cacheLang(row.SourceLang),
		cacheLang(row.TargetLang),
		TextHash(row.OriginalText),
		row.OriginalText,
		row.TranslatedText,
		row.Engine,
		modelName,
		latency,
	).Error; err != nil {
		return fmt.Errorf("upsert translation cache: %w", err)
	}
	return nil
}

// QueryCacheStats counts rows and accumulated hits.
func (p *Pool) QueryCacheStats(ctx context.Context) (*CacheStats, error) {
	const q = `
SELECT count(*), coalesce(sum(hit_count), 0)
FROM glint.translation_cache
`

	tx, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	var stats CacheStats
	if err := tx.Raw(q).Row().Scan(&stats.Entries, &stats.Hits); err != nil {
		return nil, fmt.Errorf("query cache stats: %w", err)
	}
	return &stats, nil
}

// PruneTranslations deletes entries not used since cutoff.
func (p *Pool) PruneTranslations(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
DELETE FROM glint.translation_cache
WHERE last_used_at < $1
`

	tx, err := p.session(ctx)
	if err != nil {
		return 0, err
	}
	res := tx.Exec(q, cutoff.UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("prune translation cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// cacheLang folds blank source languages onto "auto" so lookups and writes agree.
func cacheLang(raw string) string {
	lang := strings.ToLower(strings.TrimSpace(raw))
	if lang == "" {
		return "auto"
	}
	return lang
}
