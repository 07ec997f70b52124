package database

import (
	"errors"
	"time"

	"github.com/dealwatch/backend/internal/deals"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRepairZeroNormalPrices = "2026-07-18_repair_zero_normal_prices"

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
		{name: migrationRepairZeroNormalPrices, apply: repairZeroNormalPrices},
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

// repairZeroNormalPrices backfills rows mirrored before the price-repair rule
// existed: a zero list price with a positive sale price is stored at parity.
func repairZeroNormalPrices(db *gorm.DB) error {
	return db.Model(&deals.Deal{}).
		Where("normal_price <= 0 AND sale_price > 0").
		Update("normal_price", gorm.Expr("sale_price")).Error
}
