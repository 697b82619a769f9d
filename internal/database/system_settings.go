package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/questlog/questlog/internal/models"
)

const CredentialKeySetting = "security.credential_key_fingerprint"

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{
		Key:   key,
		Value: value,
	}

	if err := db.WithContext(ctx).
		Where("key = ?", key).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}

	return nil
}

// EnsureCredentialKey records a fingerprint of the credential encryption key.
// When the fingerprint changes, previously stored platform secrets can no
// longer be decrypted, so they are cleared and the new fingerprint is stored.
// Returns true when stale secrets were purged.
func EnsureCredentialKey(ctx context.Context, db *gorm.DB, key []byte) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("system settings: credential key is empty")
	}

	sum := sha256.Sum256(key)
	fingerprint := hex.EncodeToString(sum[:])

	current, err := GetSystemSetting(ctx, db, CredentialKeySetting)
	if err != nil {
		return false, err
	}

	if current == fingerprint {
		return false, nil
	}

	purged := false
	if current != "" {
		res := db.WithContext(ctx).
			Model(&models.User{}).
			Where("encrypted_npsso <> ''").
			Update("encrypted_npsso", "")
		if res.Error != nil {
			return false, fmt.Errorf("system settings: purge stale credentials: %w", res.Error)
		}
		purged = res.RowsAffected > 0
	}

	return purged, UpsertSystemSetting(ctx, db, CredentialKeySetting, fingerprint)
}
