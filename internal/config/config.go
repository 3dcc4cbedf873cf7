package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Keys of the property store shared with the data source resolver.
const (
	KeyDatabaseURL      = "DB_URL"
	KeyDatabaseUsername = "DB_USERNAME"
	KeyDatabasePassword = "DB_PASSWORD"
)

type Config struct {
	// Connection normalization
	Driver         string
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration

	// Scheduling
	ProbeCron          string
	TZ                 string
	ProbeRetentionDays int

	// Storage
	StateDir string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Service
	ServicePort int

	props *viper.Viper
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Driver:             v.GetString("DB_DRIVER"),
		ConnectTimeout:     time.Duration(v.GetInt("DB_CONNECT_TIMEOUT")) * time.Second,
		SocketTimeout:      time.Duration(v.GetInt("DB_SOCKET_TIMEOUT")) * time.Second,
		ProbeCron:          v.GetString("PROBE_CRON"),
		TZ:                 v.GetString("TZ"),
		ProbeRetentionDays: v.GetInt("PROBE_RETENTION_DAYS"),
		StateDir:           v.GetString("STATE_DIR"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
		LogFile:            v.GetString("LOG_FILE"),
		ServicePort:        v.GetInt("SERVICE_PORT"),
		props:              v,
	}

	if cfg.ServicePort < 1 || cfg.ServicePort > 65535 {
		return nil, fmt.Errorf("invalid SERVICE_PORT %d", cfg.ServicePort)
	}

	// Resolve absolute path for state directory
	if !filepath.IsAbs(cfg.StateDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.StateDir = filepath.Join(cwd, cfg.StateDir)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "jdbc")
	v.SetDefault("DB_CONNECT_TIMEOUT", 10)
	v.SetDefault("DB_SOCKET_TIMEOUT", 10)
	v.SetDefault("PROBE_CRON", "*/5 * * * *")
	v.SetDefault("TZ", "UTC")
	v.SetDefault("PROBE_RETENTION_DAYS", 7)
	v.SetDefault("STATE_DIR", "./state")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SERVICE_PORT", 8080)
}

// Properties is the process-wide property store. Values written here take
// precedence over the environment for every later reader.
func (c *Config) Properties() *viper.Viper {
	return c.props
}

func NewLogger(cfg *Config) (*zap.Logger, error) {
	var level zapcore.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = zapcore.DebugLevel
	case "INFO":
		level = zapcore.InfoLevel
	case "WARN":
		level = zapcore.WarnLevel
	case "ERROR":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	if cfg.LogFormat == "text" {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	if cfg.LogFile == "" {
		return logger, nil
	}

	// Files always get JSON, whatever the console format is.
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(config.EncoderConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}),
		config.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}
