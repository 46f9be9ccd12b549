package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/scoutkit/creator-pipeline/internal/discovery"
	"github.com/scoutkit/creator-pipeline/internal/idempotency"
)

// Connect opens the MySQL connection and migrates the pipeline tables.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	if err := Migrate(gdb); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&discovery.Job{},
		&discovery.ResultBatch{},
		&discovery.JobCreator{},
		&idempotency.Event{},
	)
}
