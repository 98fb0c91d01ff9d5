package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationLowercaseWalletAddresses = "2026-08-12_lowercase_wallet_addresses"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationLowercaseWalletAddresses, apply: lowercaseWalletAddresses},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// lowercaseWalletAddresses repairs rows written before the wallet address was
// canonicalized at the boundary. Point and deposit keys are matched
// case-insensitively everywhere, so mixed-case rows would otherwise split a
// wallet's history across duplicate keys.
func lowercaseWalletAddresses(db *gorm.DB) error {
	for _, table := range []string{"point_actions", "user_points", "deposit_records", "referrals"} {
		statement := "UPDATE " + table + " SET wallet_address = lower(wallet_address) WHERE wallet_address <> lower(wallet_address);"
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
