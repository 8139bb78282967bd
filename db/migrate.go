package db

import (
	"fmt"

	"gorm.io/gorm"
)

func AutoMigrate(gdb *gorm.DB, models ...any) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	if len(models) == 0 {
		return nil
	}
	return gdb.AutoMigrate(models...)
}
