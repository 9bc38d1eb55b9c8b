// Package db selects the concrete KV driver by name.
package db

import (
	"github.com/pkg/errors"

	"github.com/moodsense/moodsense/store"
	"github.com/moodsense/moodsense/store/db/postgres"
	"github.com/moodsense/moodsense/store/db/sqlite"
)

// NewKV opens the KV store for the configured driver.
func NewKV(driver, dsn string) (store.KV, error) {
	switch driver {
	case "sqlite":
		return sqlite.New(dsn)
	case "postgres":
		return postgres.New(dsn)
	default:
		return nil, errors.Errorf("unknown store driver %q", driver)
	}
}
