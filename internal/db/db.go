package db

import (
	"log"
	"os"
	"time"

	"commentry/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init connects to Postgres, migrates and seeds. It exits the process on failure.
func Init(dsn string) *gorm.DB {
	var err error
	DB, err = Open(postgres.Open(dsn))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Database connection established")

	// Configure connection pool
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(DB); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migration completed")

	seedPages(DB)
	return DB
}

// Open opens a gorm connection with the shared logger settings.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// Migrate creates or updates the comment tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Page{},
		&models.User{},
		&models.Comment{},
		&models.Vote{},
	)
}

func seedPages(db *gorm.DB) {
	// 检查是否已有页面数据
	var count int64
	db.Model(&models.Page{}).Count(&count)
	if count > 0 {
		return
	}

	home := models.Page{Path: "/", Title: "Home"}
	if err := db.Create(&home).Error; err != nil {
		log.Printf("Failed to create home page: %v", err)
		return
	}
	log.Println("Initial page created")
}
