package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"levtrader/internal/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetValue unmarshals the stored JSON for key into out. Returns false when
// the key has never been written.
func (s *Store) GetValue(ctx context.Context, key string, out any) (bool, error) {
	var entry store.ConfigEntry
	err := s.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(entry.Value) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(entry.Value, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetValue upserts the JSON-encoded value under key.
func (s *Store) SetValue(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := store.ConfigEntry{
		Key:       key,
		Value:     raw,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}
