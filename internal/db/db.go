package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quizforge/internal/models"
)

// Open connects to the SQLite database and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?_foreign_keys=1", path)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// sqlite tolerates a single writer; keep the pool at one connection.
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := conn.AutoMigrate(
		&models.Lesson{},
		&models.Section{},
		&models.LearningObject{},
		&models.ConceptRelationship{},
		&models.Question{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}
