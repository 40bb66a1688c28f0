package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Logger      LoggerConf      `mapstructure:"logger"`
	HTTP        HTTPConf        `mapstructure:"http"`
	Storage     StorageConf     `mapstructure:"storage"`
	AOF         AOFConf         `mapstructure:"aof"`
	Snapshot    SnapshotConf    `mapstructure:"snapshot"`
	Replication ReplicationConf `mapstructure:"replication"`
	Bandit      BanditConf      `mapstructure:"bandit"`
}

type LoggerConf struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

type HTTPConf struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port" validate:"required,numeric"`
	GrpcPort string `mapstructure:"grpcPort" validate:"required,numeric,nefield=Port"`
}

type StorageConf struct {
	Driver           string `mapstructure:"driver" validate:"oneof=badger postgres redis memory"`
	Path             string `mapstructure:"path" validate:"required_if=Driver badger"`
	SyncWrites       bool   `mapstructure:"syncWrites"`
	ConnectionString string `mapstructure:"connectionString" validate:"required_if=Driver postgres"`
	RedisAddr        string `mapstructure:"redisAddr" validate:"required_if=Driver redis"`
	RedisPassword    string `mapstructure:"redisPassword"`
	RedisDB          int    `mapstructure:"redisDB" validate:"gte=0"`
}

type AOFConf struct {
	Enabled bool `mapstructure:"enabled"`
	// used when the snapshot store is not badger
	Path string `mapstructure:"path"`
}

type SnapshotConf struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

type ReplicationConf struct {
	Role  string `mapstructure:"role" validate:"omitempty,oneof=master replica"`
	DSN   string `mapstructure:"dsn" validate:"required_with=Role"`
	Queue string `mapstructure:"queue" validate:"required_with=Role"`
}

type BanditConf struct {
	// 0 seeds from the clock
	Seed int64 `mapstructure:"seed"`
}

var defaults = map[string]interface{}{
	"logger.level":             "info",
	"logger.file":              "",
	"http.host":                "0.0.0.0",
	"http.port":                "8080",
	"http.grpcPort":            "50051",
	"storage.driver":           "badger",
	"storage.path":             "/var/lib/banditucb",
	"storage.syncWrites":       false,
	"storage.connectionString": "",
	"storage.redisAddr":        "",
	"storage.redisPassword":    "",
	"storage.redisDB":          0,
	"aof.enabled":              true,
	"aof.path":                 "/var/lib/banditucb/aof",
	"snapshot.interval":        "5m",
	"replication.role":         "",
	"replication.dsn":          "",
	"replication.queue":        "banditucb",
	"bandit.seed":              0,
}

func NewConfig() (Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("BANDITUCB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("cannot read config file, %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("cannot decode config, %w", err)
	}

	if err := validator.New().Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config, %w", err)
	}

	return config, nil
}
