package db

import "time"

// TranslationCacheEntry maps glint.translation_cache. Rows are keyed by the
// language pair and the SHA-256 of the normalized source text.
type TranslationCacheEntry struct {
	EntryID        int64     `gorm:"column:entry_id;primaryKey;autoIncrement"`
	EntryUUID      string    `gorm:"column:entry_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SourceLang     string    `gorm:"column:source_lang;type:text;not null;uniqueIndex:ux_translation_cache_key,priority:1"`
	TargetLang     string    `gorm:"column:target_lang;type:text;not null;uniqueIndex:ux_translation_cache_key,priority:2"`
	TextHash       []byte    `gorm:"column:text_hash;type:bytea;not null;uniqueIndex:ux_translation_cache_key,priority:3"`
	OriginalText   string    `gorm:"column:original_text;type:text;not null"`
	TranslatedText string    `gorm:"column:translated_text;type:text;not null"`
	Engine         string    `gorm:"column:engine;type:text;not null"`
	ModelName      *string   `gorm:"column:model_name;type:text"`
	LatencyMS      *int      `gorm:"column:latency_ms;type:integer"`
	HitCount       int64     `gorm:"column:hit_count;type:bigint;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	LastUsedAt     time.Time `gorm:"column:last_used_at;type:timestamptz;not null;default:now()"`
}

func (TranslationCacheEntry) TableName() string { return "glint.translation_cache" }

func autoMigrateModels() []any {
	return []any{
		&TranslationCacheEntry{},
	}
}
