package repository

import (
	"context"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	"gorm.io/gorm"
)

type ActivityGormRepository struct {
	db      *gorm.DB
	tenancy string
}

func NewActivityGormRepository(db *gorm.DB, tenancy string) *ActivityGormRepository {
	return &ActivityGormRepository{db: db, tenancy: tenancy}
}

func (r *ActivityGormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&domainActivity.Activity{})
}

func (r *ActivityGormRepository) Log(ctx context.Context, act *domainActivity.Activity) error {
	act.ServerName = r.tenancy
	return r.db.WithContext(ctx).Create(act).Error
}

func (r *ActivityGormRepository) List(ctx context.Context, limit int) ([]domainActivity.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	var acts []domainActivity.Activity
	err := r.db.WithContext(ctx).
		Where("server_name = ?", r.tenancy).
		Order("created_at desc").Limit(limit).
		Find(&acts).Error
	return acts, err
}

func (r *ActivityGormRepository) ListForBot(ctx context.Context, botID string, limit int) ([]domainActivity.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	var acts []domainActivity.Activity
	err := r.db.WithContext(ctx).
		Where("server_name = ? AND bot_instance_id = ?", r.tenancy, botID).
		Order("created_at desc").Limit(limit).
		Find(&acts).Error
	return acts, err
}

// CreateCrossTenancyActivity records an operation performed against another
// tenancy, on that tenancy's scope. Only the RPC layer calls this.
func (r *ActivityGormRepository) CreateCrossTenancyActivity(ctx context.Context, targetServer string, act *domainActivity.Activity) error {
	act.ServerName = targetServer
	act.RemoteServer = r.tenancy
	return r.db.WithContext(ctx).Create(act).Error
}
