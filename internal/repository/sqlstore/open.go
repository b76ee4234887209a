package sqlstore

import (
	"fmt"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to driver ("sqlite" or "mysql") and migrates the jobs table.
//
// SQLite is limited to one open connection: the in-memory and shared-cache
// modes lock whole tables, and a single connection serializes statements
// without SQLITE_LOCKED errors. Claims stay CAS-based either way.
// MySQL DSNs should carry clientFoundRows=true so that a progress update that
// leaves the row unchanged still counts as matched.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = gormsqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&jobRow{}); err != nil {
		return nil, fmt.Errorf("migrate jobs: %w", err)
	}
	return db, nil
}
