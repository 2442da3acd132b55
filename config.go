package patchbay

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Mode       string
	ApiPort    string
	NatsConfig struct {
		URL        string
		Prefix     string
		ClientName string
	}
	MirrorConfig struct {
		PendingTTL    time.Duration
		SweepInterval time.Duration
		QueueSize     int
	}
	JournalConfig struct {
		Enabled bool
	}
	MainDatabase struct {
		Host         string
		Port         string
		User         string
		Password     string
		DatabaseName string
		SSLMode      string
	}
	JWTConfig struct {
		Secret     string
		Expiration int // in minutes
	}
	RedisConfig struct {
		Host        string
		Port        string
		Password    string
		DB          int
		PositionTTL time.Duration
	}
}

var config AppConfig

func InitConfig(envfile string) {
	err := godotenv.Load(envfile)
	if err != nil {
		log.Fatal(fmt.Sprintf("Error loading %s file: %s", envfile, err))
	}
	config = AppConfig{
		Mode:    getEnvOrPanic("RUN_MODE"),
		ApiPort: getEnvOrPanic("API_PORT"),
		NatsConfig: struct {
			URL        string
			Prefix     string
			ClientName string
		}{
			URL:        GetEnv("NATS_URL", "nats://localhost:4222"),
			Prefix:     GetEnv("NATS_PREFIX", "patchbay"),
			ClientName: GetEnv("NATS_CLIENT_NAME", "patchbay-mirror"),
		},
		MirrorConfig: struct {
			PendingTTL    time.Duration
			SweepInterval time.Duration
			QueueSize     int
		}{
			PendingTTL:    getDurationEnvOrDefault("PENDING_TTL", 5*time.Minute),
			SweepInterval: getDurationEnvOrDefault("PENDING_SWEEP_INTERVAL", 30*time.Second),
			QueueSize:     getIntEnvOrDefault("MIRROR_QUEUE_SIZE", 1024),
		},
		JournalConfig: struct {
			Enabled bool
		}{
			Enabled: GetEnv("JOURNAL_ENABLED", "false") == "true",
		},
		JWTConfig: struct {
			Secret     string
			Expiration int
		}{
			Secret:     getEnvOrPanic("JWT_SECRET"),
			Expiration: getIntEnvOrDefault("JWT_EXPIRATION_MINUTES", 60),
		},
		RedisConfig: struct {
			Host        string
			Port        string
			Password    string
			DB          int
			PositionTTL time.Duration
		}{
			Host:        GetEnv("REDIS_HOST", "localhost"),
			Port:        GetEnv("REDIS_PORT", "6379"),
			Password:    GetEnv("REDIS_PASSWORD", ""),
			DB:          getIntEnvOrDefault("REDIS_DB", 0),
			PositionTTL: getDurationEnvOrDefault("POSITION_TTL", 30*24*time.Hour),
		},
	}

	Logger = initLogger(config.Mode)
	Redis = connectToRedis(config.RedisConfig.Host, config.RedisConfig.Port, config.RedisConfig.Password, config.RedisConfig.DB)

	if config.JournalConfig.Enabled {
		config.MainDatabase = struct {
			Host         string
			Port         string
			User         string
			Password     string
			DatabaseName string
			SSLMode      string
		}{
			Host:         getEnvOrPanic("DB_HOSTNAME"),
			Port:         getEnvOrPanic("DB_PORT"),
			User:         getEnvOrPanic("DB_USERNAME"),
			Password:     getEnvOrPanic("DB_PASSWORD"),
			DatabaseName: getEnvOrPanic("DB_NAME"),
			SSLMode:      GetEnv("DB_SSL_MODE", "disable"),
		}
		DB = connectToPostgres(config.MainDatabase.Host, config.MainDatabase.User, config.MainDatabase.Password, config.MainDatabase.DatabaseName, config.MainDatabase.Port, config.MainDatabase.SSLMode)
	}
}

func GetConfig() AppConfig {
	return config
}

func getEnvOrPanic(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s must be set", key)
	}
	return value
}

func GetEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s must be a duration such as 30s or 5m", key)
	}
	return value
}

func connectToPostgres(host string, username string, password string, dbname string, port string, ssl string) *gorm.DB {
	var err error
	var db *gorm.DB
	var conn *sql.DB

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, username, password, dbname, port, ssl)
	if db, err = gorm.Open(postgres.Open(dsn),
		&gorm.Config{
			Logger: logger.New(
				log.New(os.Stdout, "\r\n", log.LstdFlags),
				logger.Config{
					SlowThreshold: 0,
					LogLevel:      logger.Error,
				},
			),
			CreateBatchSize: 500,
			TranslateError:  true,
			NamingStrategy: schema.NamingStrategy{
				SingularTable: true,
			}}); err != nil {
		panic(err)
	}
	if conn, err = db.DB(); err != nil {
		panic(err)
	}
	conn.SetMaxIdleConns(4)
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxLifetime(time.Hour)
	return db
}

func initLogger(mode string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
		NoColor:    false,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("  %s  ", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		},
	}

	level := zerolog.InfoLevel
	if mode == "dev" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
}

// NewConsoleLogger is the service logger for tools that do not load a .env.
func NewConsoleLogger(debug bool) zerolog.Logger {
	if debug {
		return initLogger("dev")
	}
	return initLogger("")
}

func connectToRedis(host string, port string, password string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	return client
}
