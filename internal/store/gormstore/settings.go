package gormstore

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"gorm.io/gorm/clause"
)

// SettingCommissionRate is the platform_settings key holding the system-wide commission rate.
const SettingCommissionRate = "commission_rate"

// SettingsStore reads platform settings. It implements booking.CommissionPolicy.
type SettingsStore struct {
	*Store
	fallback wallet.CommissionRate
}

// Settings returns the settings view of the store; fallback is used until a rate is stored.
func (store *Store) Settings(fallback wallet.CommissionRate) *SettingsStore {
	return &SettingsStore{Store: store, fallback: fallback}
}

// CurrentRate returns the stored commission rate, or the fallback when none is set.
func (settingsStore *SettingsStore) CurrentRate(ctx context.Context) (wallet.CommissionRate, error) {
	var rows []PlatformSettingModel
	err := settingsStore.conn(ctx).
		Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: SettingCommissionRate}).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return wallet.CommissionRate{}, wrapStoreError(errorSubjectSettings, errorCodeGet, err)
	}
	if len(rows) == 0 {
		return settingsStore.fallback, nil
	}
	rate, err := wallet.ParseCommissionRate(rows[0].Value)
	if err != nil {
		return wallet.CommissionRate{}, wrapStoreError(errorSubjectSettings, errorCodeDecode, err)
	}
	return rate, nil
}

// SetCommissionRate stores the rate applied to bookings created from now on. Existing
// bookings keep the rate they were created with.
func (settingsStore *SettingsStore) SetCommissionRate(ctx context.Context, rate wallet.CommissionRate, at time.Time) error {
	row := PlatformSettingModel{Key: SettingCommissionRate, Value: rate.Decimal().String(), UpdatedAt: at.UTC()}
	err := settingsStore.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"})}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectSettings, errorCodeUpsert, err)
	}
	return nil
}
