package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// buildStoreURL 根据驱动类型构建数据库连接字符串
func buildStoreURL(s StoreConfig) string {
	switch s.Driver {
	case "sqlite":
		dbPath := s.Path
		if dbPath == "" {
			dbPath = filepath.Join(os.TempDir(), "pilot-runtime", "state.db")
		}
		return fmt.Sprintf("file:%s?cache=shared&mode=rwc", dbPath)
	case "mongodb":
		if s.User != "" && s.Password != "" {
			return fmt.Sprintf("mongodb://%s:%s@%s:%d", s.User, s.Password, s.Host, s.Port)
		}
		return fmt.Sprintf("mongodb://%s:%d", s.Host, s.Port)
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
	default:
		return ""
	}
}

// detectStoreDriver 检测存储驱动类型
// 优先级：YAML driver 字段 > URL 前缀自动检测 > 默认 sqlite
func detectStoreDriver(driver, url string) string {
	switch d := strings.ToLower(driver); d {
	case "sqlite", "postgres", "mongodb", "none":
		return d
	}
	switch {
	case strings.HasPrefix(url, "file:"), strings.HasPrefix(url, "sqlite:"):
		return "sqlite"
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		return "mongodb"
	}
	return "sqlite"
}

// buildRedisURL 构建 Redis 连接字符串
// 如果 URL 字段非空，直接使用；否则从 host/port/db/password 构建
func buildRedisURL(redis RedisConfig) string {
	if redis.URL != "" {
		return redis.URL
	}
	if redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", redis.Password, redis.Host, redis.Port, redis.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", redis.Host, redis.Port, redis.DB)
}

var passwordPattern = regexp.MustCompile(`(://[^:/]*:)([^@]+)(@)`)

// maskPassword 隐藏密码
func maskPassword(url string) string {
	return passwordPattern.ReplaceAllString(url, "${1}***${3}")
}

// parseEnv 解析环境字符串
func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

// firstEnv 返回第一个非空的环境变量值
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnv 获取环境变量，支持默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
