package service

import (
	"context"
	"encoding/json"
	"fmt"

	"patchbay"
	"patchbay/internal/api/models"
	"patchbay/internal/api/repo"
	"patchbay/internal/mirror"

	"github.com/rs/zerolog"
)

const maxJournalPage = 500

type journalRepository interface {
	Create(entry *models.JournalEntry) error
	FindRecent(limit int) ([]models.JournalEntry, error)
	FindByPeer(peer string, limit int) ([]models.JournalEntry, error)
}

// JournalService keeps an audit trail of every request sent to peers.
type JournalService struct {
	journalRepo journalRepository
	logger      zerolog.Logger
}

var _ mirror.Journal = (*JournalService)(nil)

func NewJournalService() *JournalService {
	return newJournalService(repo.NewJournalRepository(), patchbay.Logger)
}

func newJournalService(r journalRepository, logger zerolog.Logger) *JournalService {
	return &JournalService{journalRepo: r, logger: logger}
}

func (slf *JournalService) Record(ctx context.Context, req mirror.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal journal payload: %w", err)
	}
	entry := models.JournalEntry{
		Action:    req.Action,
		Peer:      req.Peer,
		Payload:   payload,
		CreatedAt: req.At,
	}
	if req.Err != nil {
		entry.Error = req.Err.Error()
	}
	if err := slf.journalRepo.Create(&entry); err != nil {
		slf.logger.Error().Err(err).Str("action", req.Action).Msg("Error writing journal entry")
		return err
	}
	return nil
}

// Recent returns the newest entries first, optionally for a single peer.
func (slf *JournalService) Recent(peer string, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 || limit > maxJournalPage {
		limit = maxJournalPage
	}
	if peer != "" {
		return slf.journalRepo.FindByPeer(peer, limit)
	}
	return slf.journalRepo.FindRecent(limit)
}
