package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var DSN string
var MainConfig Config

type Config struct {
	XMLName     xml.Name `xml:"config" yaml:"-"`
	Port        string   `xml:"port" yaml:"port"`
	LogMode     string   `xml:"logmode" yaml:"log_mode"`
	Upload      string   `xml:"upload" yaml:"upload"`
	Redis       string   `xml:"redis" yaml:"redis"`
	Provider    string   `xml:"provider" yaml:"provider"`
	Database    Database `xml:"database" yaml:"database"`
	Radius      Radius   `xml:"radius" yaml:"radius"`
	Tolerance   float64  `xml:"tolerance" yaml:"tolerance"`
	QueueLimit  int      `xml:"queuelimit" yaml:"queue_limit"`
	MaxFileSize int64    `xml:"maxfilesize" yaml:"max_file_size"`
	Workers     int      `xml:"workers" yaml:"workers"`
	Interval    int      `xml:"interval" yaml:"interval"`
	Retry       Retry    `xml:"retry" yaml:"retry"`
	Cache       Cache    `xml:"cache" yaml:"cache"`
}

// Database 数据库连接，driver 为 postgres 或 sqlite
type Database struct {
	Driver   string `xml:"driver" yaml:"driver"`
	Host     string `xml:"host" yaml:"host"`
	Port     string `xml:"port" yaml:"port"`
	Username string `xml:"user" yaml:"user"`
	Password string `xml:"password" yaml:"password"`
	Dbname   string `xml:"dbname" yaml:"dbname"`
	Path     string `xml:"path" yaml:"path"`
}

// Radius 各几何类型的缓冲半径（EPSG:3857 单位），Similar 用于相似匹配
type Radius struct {
	Point   float64 `xml:"point" yaml:"point"`
	Line    float64 `xml:"line" yaml:"line"`
	Polygon float64 `xml:"polygon" yaml:"polygon"`
	Similar float64 `xml:"similar" yaml:"similar"`
}

// Retry 外部依赖瞬时错误的重试参数
type Retry struct {
	MaxTries      uint `xml:"maxtries" yaml:"max_tries"`
	InitialMs     int  `xml:"initialms" yaml:"initial_ms"`
	MaxElapsedSec int  `xml:"maxelapsedsec" yaml:"max_elapsed_sec"`
}

// Cache 匹配预览缓存
type Cache struct {
	Size       int `xml:"size" yaml:"size"`
	TTLSeconds int `xml:"ttl" yaml:"ttl_seconds"`
}

func init() {
	// 启动时尝试读取工作目录下的配置，读取失败时保留默认值
	_ = godotenv.Load(".env")
	cfg, err := Load("config.xml")
	if err != nil {
		fmt.Println("Error  loading  config:", err)
		cfg = Default()
		cfg.applyEnv()
	}
	Apply(cfg)
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Port:    "8426",
		LogMode: "dev",
		Upload:  "./upload",
		Database: Database{
			Driver: "postgres",
			Host:   "127.0.0.1",
			Port:   "5432",
			Dbname: "geoclassify",
			Path:   "geoclassify.db",
		},
		Radius:      Radius{Point: 50, Line: 50, Polygon: 50, Similar: 100},
		Tolerance:   0.01,
		QueueLimit:  100,
		MaxFileSize: 500 * 1024 * 1024,
		Workers:     4,
		Interval:    10,
		Retry:       Retry{MaxTries: 5, InitialMs: 500, MaxElapsedSec: 60},
		Cache:       Cache{Size: 256, TTLSeconds: 300},
	}
}

// Load 读取配置文件，按扩展名选择 XML 或 YAML，再用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = xml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// Apply 设置全局配置
func Apply(cfg *Config) {
	cfg.normalize()
	MainConfig = *cfg
	DSN = cfg.DSN()
}

// DSN 数据库连接串
func (c *Config) DSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.Path
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Database.Host, c.Database.Username, c.Database.Password, c.Database.Dbname, c.Database.Port)
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"GEO_PORT":        &c.Port,
		"GEO_LOG_MODE":    &c.LogMode,
		"GEO_UPLOAD":      &c.Upload,
		"GEO_REDIS_ADDR":  &c.Redis,
		"GEO_PROVIDER":    &c.Provider,
		"GEO_DB_DRIVER":   &c.Database.Driver,
		"GEO_DB_HOST":     &c.Database.Host,
		"GEO_DB_PORT":     &c.Database.Port,
		"GEO_DB_USER":     &c.Database.Username,
		"GEO_DB_PASSWORD": &c.Database.Password,
		"GEO_DB_NAME":     &c.Database.Dbname,
		"GEO_DB_PATH":     &c.Database.Path,
	}
	for key, target := range overrides {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*target = v
		}
	}
	if v, err := strconv.Atoi(os.Getenv("GEO_QUEUE_LIMIT")); err == nil && v > 0 {
		c.QueueLimit = v
	}
}

func (c *Config) normalize() {
	def := Default()
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		// sqlite 没有空间函数，只能使用内置的平面计算
		if c.Database.Driver == "postgres" {
			c.Provider = "postgis"
		} else {
			c.Provider = "planar"
		}
	}
	if c.Radius.Point <= 0 {
		c.Radius.Point = def.Radius.Point
	}
	if c.Radius.Line <= 0 {
		c.Radius.Line = def.Radius.Line
	}
	if c.Radius.Polygon <= 0 {
		c.Radius.Polygon = def.Radius.Polygon
	}
	if c.Radius.Similar <= 0 {
		c.Radius.Similar = def.Radius.Similar
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = def.QueueLimit
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = def.MaxFileSize
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Retry.MaxTries == 0 {
		c.Retry = def.Retry
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = def.Cache.Size
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = def.Cache.TTLSeconds
	}
}
