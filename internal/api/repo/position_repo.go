package repo

import (
	"context"
	"errors"
	"time"

	"patchbay"
	"patchbay/internal/api/models"
	"patchbay/pkg"

	"github.com/redis/go-redis/v9"
)

var ErrPositionNotFound = errors.New("position not found")

const positionKeyPrefix = "patchbay:position:"

type PositionRepository struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{
		Client: patchbay.Redis,
		TTL:    patchbay.GetConfig().RedisConfig.PositionTTL,
	}
}

func positionKey(peerName string) string {
	return positionKeyPrefix + peerName
}

func (slf *PositionRepository) Save(ctx context.Context, peerName string, pos models.BlockPosition) error {
	return pkg.RedisSetJSON(ctx, slf.Client, positionKey(peerName), pos, slf.TTL)
}

func (slf *PositionRepository) FindByPeerName(ctx context.Context, peerName string) (models.BlockPosition, error) {
	var pos models.BlockPosition
	err := pkg.RedisGetJSON(ctx, slf.Client, positionKey(peerName), &pos)
	if pkg.IsRedisNil(err) {
		return pos, ErrPositionNotFound
	}
	return pos, err
}
