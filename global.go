package patchbay

import (
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// DB is nil unless the request journal is enabled.
	DB     *gorm.DB
	Logger zerolog.Logger
	Redis  *redis.Client
)
