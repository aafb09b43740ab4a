package repository

import (
	"context"
	"errors"

	domainInstance "github.com/wafleet/wafleet/domains/instance"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"gorm.io/gorm"
)

// InstanceGormRepository is the tenancy-scoped bot store. Every query is
// filtered by the tenancy fixed at construction; only the *OnServer methods
// accept a foreign tenancy, and those are reserved for the RPC layer.
type InstanceGormRepository struct {
	db      *gorm.DB
	tenancy string
}

func NewInstanceGormRepository(db *gorm.DB, tenancy string) *InstanceGormRepository {
	return &InstanceGormRepository{db: db, tenancy: tenancy}
}

func (r *InstanceGormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&domainInstance.BotInstance{})
}

func (r *InstanceGormRepository) scoped() *gorm.DB {
	return r.db.Where("server_name = ?", r.tenancy)
}

func (r *InstanceGormRepository) Create(ctx context.Context, bot *domainInstance.BotInstance) error {
	bot.ServerName = r.tenancy
	return r.db.WithContext(ctx).Create(bot).Error
}

func (r *InstanceGormRepository) GetByID(ctx context.Context, id string) (*domainInstance.BotInstance, error) {
	var bot domainInstance.BotInstance
	err := r.scoped().WithContext(ctx).Where("id = ?", id).First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgError.NotFoundError("bot not found")
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (r *InstanceGormRepository) GetByPhone(ctx context.Context, phone string) (*domainInstance.BotInstance, error) {
	var bot domainInstance.BotInstance
	err := r.scoped().WithContext(ctx).Where("phone_number = ?", phone).First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgError.NotFoundError("bot not found")
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (r *InstanceGormRepository) List(ctx context.Context) ([]domainInstance.BotInstance, error) {
	var bots []domainInstance.BotInstance
	err := r.scoped().WithContext(ctx).Order("created_at asc").Find(&bots).Error
	return bots, err
}

// ListFleet returns every bot across all tenancies. Only the admin master
// view reads this; everything else stays tenancy-scoped.
func (r *InstanceGormRepository) ListFleet(ctx context.Context) ([]domainInstance.BotInstance, error) {
	var bots []domainInstance.BotInstance
	err := r.db.WithContext(ctx).Order("server_name asc, created_at asc").Find(&bots).Error
	return bots, err
}

// ListResumable returns the exact resume-on-startup set: approved bots with
// verified credentials or no credentials at all.
func (r *InstanceGormRepository) ListResumable(ctx context.Context) ([]domainInstance.BotInstance, error) {
	var bots []domainInstance.BotInstance
	err := r.scoped().WithContext(ctx).
		Where("approval_status = ?", domainInstance.ApprovalApproved).
		Where("credential_verified = ? OR credentials IS NULL", true).
		Order("created_at asc").
		Find(&bots).Error
	return bots, err
}

func (r *InstanceGormRepository) Update(ctx context.Context, bot *domainInstance.BotInstance) error {
	if bot.ServerName != r.tenancy {
		return pkgError.PermissionError("cannot update a bot homed on another server")
	}
	return r.db.WithContext(ctx).Save(bot).Error
}

func (r *InstanceGormRepository) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domainInstance.BotInstance{}).
		Where("id = ? AND server_name = ?", id, r.tenancy).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgError.NotFoundError("bot not found")
	}
	return nil
}

func (r *InstanceGormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND server_name = ?", id, r.tenancy).
		Delete(&domainInstance.BotInstance{}).Error
}

// --- Cross-tenancy methods (trusted callers only) ---

func (r *InstanceGormRepository) GetBotOnServer(ctx context.Context, serverName, botID string) (*domainInstance.BotInstance, error) {
	var bot domainInstance.BotInstance
	err := r.db.WithContext(ctx).
		Where("id = ? AND server_name = ?", botID, serverName).
		First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgError.NotFoundError("bot not found on " + serverName)
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (r *InstanceGormRepository) GetBotOnServerByPhone(ctx context.Context, serverName, phone string) (*domainInstance.BotInstance, error) {
	var bot domainInstance.BotInstance
	err := r.db.WithContext(ctx).
		Where("phone_number = ? AND server_name = ?", phone, serverName).
		First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgError.NotFoundError("bot not found on " + serverName)
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// UpdateBotOnServer writes a row owned by another tenancy. The WHERE clause
// always carries the serverName predicate; no ad-hoc update may bypass it.
func (r *InstanceGormRepository) UpdateBotOnServer(ctx context.Context, serverName, botID string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domainInstance.BotInstance{}).
		Where("id = ? AND server_name = ?", botID, serverName).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgError.NotFoundError("bot not found on " + serverName)
	}
	return nil
}
