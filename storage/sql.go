// Package storage archives loaded catalogs and sticker fingerprints in a SQL
// database through gorm.
package storage

import (
	"context"
	"sort"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stickerdl/catalog"
	"stickerdl/dedup"
	"stickerdl/resolver"
)

var dialectors = map[string]func(dsn string) gorm.Dialector{
	"sqlite":   sqlite.Open,
	"postgres": postgres.Open,
}

// Drivers returns the supported driver names.
func Drivers() []string {
	drivers := make([]string, 0, len(dialectors))
	for driver := range dialectors {
		drivers = append(drivers, driver)
	}

	sort.Strings(drivers)
	return drivers
}

type SQL gorm.DB

func Open(driver, dsn string, log logrus.FieldLogger) (*SQL, error) {
	dialector, ok := dialectors[driver]
	if !ok {
		return nil, errors.Errorf("unknown driver: %s", driver)
	}

	db, err := gorm.Open(dialector(dsn), &gorm.Config{Logger: NewLogger(log)})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}

	return (*SQL)(db), nil
}

func (s *SQL) Unmask() *gorm.DB {
	return (*gorm.DB)(s)
}

func (s *SQL) Init(ctx context.Context) error {
	return s.Unmask().WithContext(ctx).AutoMigrate(new(CatalogLoad), new(Sticker), new(dedup.Fingerprint))
}

func (s *SQL) Close() error {
	db, err := s.Unmask().DB()
	if err != nil {
		return err
	}

	return db.Close()
}

// SaveCatalog stores the catalog loaded from url. Results are optional and
// matched to stickers by index.
func (s *SQL) SaveCatalog(ctx context.Context, url string, c catalog.Catalog, results []resolver.Result) (*CatalogLoad, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "generate id")
	}

	load := &CatalogLoad{
		ID:       id,
		URL:      url,
		LoadedAt: s.Unmask().NowFunc(),
		Stickers: len(c),
	}

	stickers := make([]Sticker, len(c))
	for i, d := range c {
		stickers[i] = Sticker{
			LoadID:    id,
			Position:  i,
			StickerID: d.ID,
			Kind:      d.Kind.String(),
			SourceURL: d.SourceURL,
		}
	}

	for _, result := range results {
		if result.Asset == nil || result.Index < 0 || result.Index >= len(stickers) {
			continue
		}

		stickers[result.Index].FileName = null.StringFrom(result.Asset.FileName)
		stickers[result.Index].Status = null.StringFrom(result.Asset.Status.String())
	}

	return load, s.Unmask().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(load).Error; err != nil {
			return errors.Wrap(err, "create load")
		}

		if len(stickers) == 0 {
			return nil
		}

		if err := tx.CreateInBatches(stickers, 100).Error; err != nil {
			return errors.Wrap(err, "create stickers")
		}

		return nil
	})
}

// History returns the latest catalog loads, newest first.
func (s *SQL) History(ctx context.Context, limit int) ([]CatalogLoad, error) {
	var loads []CatalogLoad
	query := s.Unmask().WithContext(ctx).Order("loaded_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	return loads, query.Find(&loads).Error
}

func (s *SQL) Stickers(ctx context.Context, loadID uuid.UUID) ([]Sticker, error) {
	var stickers []Sticker
	return stickers, s.Unmask().WithContext(ctx).
		Where("load_id = ?", loadID).
		Order("position").
		Find(&stickers).
		Error
}

// Catalog restores the catalog archived under loadID.
func (s *SQL) Catalog(ctx context.Context, loadID uuid.UUID) (catalog.Catalog, error) {
	stickers, err := s.Stickers(ctx, loadID)
	if err != nil {
		return nil, errors.Wrap(err, "find stickers")
	}

	c := make(catalog.Catalog, len(stickers))
	for i, sticker := range stickers {
		kind, err := catalog.ParseKind(sticker.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "sticker %s", sticker.StickerID)
		}

		c[i] = catalog.Descriptor{ID: sticker.StickerID, SourceURL: sticker.SourceURL, Kind: kind}
	}

	return c, nil
}

// Check upserts the fingerprint and returns true if it was not stored before.
// On collision the stored row is loaded into fingerprint.
func (s *SQL) Check(ctx context.Context, fingerprint *dedup.Fingerprint) (bool, error) {
	update := clause.Set{
		{Column: clause.Column{Name: "collisions"}, Value: gorm.Expr("fingerprint.collisions + 1")},
		{Column: clause.Column{Name: "url"}, Value: fingerprint.URL},
		{Column: clause.Column{Name: "last_seen"}, Value: fingerprint.LastSeen},
	}

	err := s.Unmask().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		onConflict, err := OnConflictClause(tx, fingerprint, update)
		if err != nil {
			return err
		}

		if err := tx.Clauses(onConflict).Create(fingerprint).Error; err != nil {
			return errors.Wrap(err, "create")
		}

		if err := tx.First(fingerprint).Error; err != nil {
			return errors.Wrap(err, "find")
		}

		return nil
	})

	return err == nil && fingerprint.Collisions == 0, err
}

// OnConflictClause builds an upsert clause on the primary key of entity.
func OnConflictClause(db *gorm.DB, entity interface{}, doUpdates clause.Set) (clause.OnConflict, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(entity); err != nil {
		return clause.OnConflict{}, errors.Wrap(err, "parse schema")
	}

	columns := make([]clause.Column, len(stmt.Schema.PrimaryFields))
	for i, field := range stmt.Schema.PrimaryFields {
		columns[i] = clause.Column{Name: field.DBName}
	}

	return clause.OnConflict{Columns: columns, DoUpdates: doUpdates}, nil
}
