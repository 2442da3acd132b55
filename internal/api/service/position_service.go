package service

import (
	"context"
	"errors"
	"time"

	"patchbay"
	"patchbay/internal/api/models"
	"patchbay/internal/api/repo"
	"patchbay/internal/mirror"

	"github.com/rs/zerolog"
)

type positionRepository interface {
	Save(ctx context.Context, peerName string, pos models.BlockPosition) error
	FindByPeerName(ctx context.Context, peerName string) (models.BlockPosition, error)
}

// PositionService remembers block positions across peer sessions.
type PositionService struct {
	positionRepo positionRepository
	logger       zerolog.Logger
	now          func() time.Time
}

var _ mirror.PositionStore = (*PositionService)(nil)

func NewPositionService() *PositionService {
	return newPositionService(repo.NewPositionRepository(), patchbay.Logger)
}

func newPositionService(r positionRepository, logger zerolog.Logger) *PositionService {
	return &PositionService{positionRepo: r, logger: logger, now: time.Now}
}

func (slf *PositionService) SavePosition(ctx context.Context, peerName string, x float64, y float64) error {
	if peerName == "" {
		return nil
	}
	return slf.positionRepo.Save(ctx, peerName, models.BlockPosition{X: x, Y: y, UpdatedAt: slf.now()})
}

func (slf *PositionService) LoadPosition(ctx context.Context, peerName string) (float64, float64, bool, error) {
	pos, err := slf.positionRepo.FindByPeerName(ctx, peerName)
	if errors.Is(err, repo.ErrPositionNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		slf.logger.Error().Err(err).Str("peerName", peerName).Msg("Error loading block position")
		return 0, 0, false, err
	}
	return pos.X, pos.Y, true, nil
}
