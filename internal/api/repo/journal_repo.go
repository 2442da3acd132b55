package repo

import (
	"patchbay"
	"patchbay/internal/api/models"

	"gorm.io/gorm"
)

type JournalRepository struct {
	Db *gorm.DB
}

func NewJournalRepository() *JournalRepository {
	return &JournalRepository{Db: patchbay.DB}
}

func (slf *JournalRepository) Create(entry *models.JournalEntry) error {
	return slf.Db.Create(entry).Error
}

func (slf *JournalRepository) FindRecent(limit int) ([]models.JournalEntry, error) {
	var entries []models.JournalEntry
	err := slf.Db.Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (slf *JournalRepository) FindByPeer(peer string, limit int) ([]models.JournalEntry, error) {
	var entries []models.JournalEntry
	err := slf.Db.Where("peer = ?", peer).Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
