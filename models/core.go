package models

import (
	"fmt"
	"log"

	"github.com/GrainArc/GeoClassify/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var DB *gorm.DB

// InitDB 按配置打开主数据库
func InitDB() {
	db, err := Open(config.MainConfig.Database.Driver, config.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	DB = db
}

// Open 打开数据库并迁移所有表，driver 为 postgres 或 sqlite
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver != "sqlite" {
		// 使用 postgis 谓词时需要扩展，没有权限时只记录
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
			log.Printf("Failed to create postgis extension: %v", err)
		}
	}

	if err := migrateAllTables(db); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	if err := ensureIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return db, nil
}

// OpenMemory 打开一个命名的内存 sqlite 库，同名连接共享数据
func OpenMemory(name string) (*gorm.DB, error) {
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// migrateAllTables 批量迁移所有表
func migrateAllTables(db *gorm.DB) error {
	models := []interface{}{
		&Collection{},
		&Source{},
		&SourceColumn{},
		&Geometry{},
		&AttributeSnapshot{},
		&ImportFile{},
		&Match{},
	}

	return db.AutoMigrate(models...)
}

// ensureIndexes 创建 AutoMigrate 无法表达的部分索引
func ensureIndexes(db *gorm.DB) error {
	// 同一集合内每个 fid 只允许一个 live 版本
	return createIndex(db, "geometry", "collection_id, fid", "uidx_geometry_live_fid", true, "NOT superseded")
}

// createIndex 创建索引，where 非空时为部分索引
func createIndex(db *gorm.DB, tableName, columns, indexName string, unique bool, where string) error {
	uniqueStr := ""
	if unique {
		uniqueStr = "UNIQUE"
	}

	sql := fmt.Sprintf("CREATE %s INDEX IF NOT EXISTS %s ON %s (%s)",
		uniqueStr, indexName, tableName, columns)
	if where != "" {
		sql += " WHERE " + where
	}

	return db.Exec(sql).Error
}
