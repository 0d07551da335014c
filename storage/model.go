package storage

import (
	"time"

	"github.com/gofrs/uuid"
	"gopkg.in/guregu/null.v3"
)

// CatalogLoad is a catalog loaded from a product page.
type CatalogLoad struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	URL      string    `gorm:"not null;index"`
	LoadedAt time.Time `gorm:"not null;index"`
	Stickers int       `gorm:"not null"`
}

func (l *CatalogLoad) TableName() string {
	return "catalog_load"
}

// Sticker is a catalog entry. FileName and Status are set once the sticker
// has been resolved.
type Sticker struct {
	LoadID    uuid.UUID   `gorm:"type:uuid;primaryKey"`
	Position  int         `gorm:"primaryKey"`
	StickerID string      `gorm:"not null"`
	Kind      string      `gorm:"not null"`
	SourceURL string      `gorm:"not null"`
	FileName  null.String `gorm:"type:text"`
	Status    null.String `gorm:"type:text"`
}

func (s *Sticker) TableName() string {
	return "sticker"
}
