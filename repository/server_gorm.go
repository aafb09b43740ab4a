package repository

import (
	"context"
	"errors"
	"time"

	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"gorm.io/gorm"
)

// ServerGormRepository persists the server catalog, the god registry and
// the per-tenancy offer config.
type ServerGormRepository struct {
	db *gorm.DB
}

func NewServerGormRepository(db *gorm.DB) *ServerGormRepository {
	return &ServerGormRepository{db: db}
}

func (r *ServerGormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&domainServer.Server{},
		&domainServer.GlobalRegistration{},
		&domainServer.OfferConfig{},
	)
}

func (r *ServerGormRepository) GetServer(ctx context.Context, name string) (*domainServer.Server, error) {
	var srv domainServer.Server
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&srv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgError.NotFoundError("server " + name + " not found")
	}
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

func (r *ServerGormRepository) ListServers(ctx context.Context) ([]domainServer.Server, error) {
	var servers []domainServer.Server
	err := r.db.WithContext(ctx).Order("name asc").Find(&servers).Error
	return servers, err
}

func (r *ServerGormRepository) UpsertServer(ctx context.Context, srv *domainServer.Server) error {
	return r.db.WithContext(ctx).Save(srv).Error
}

func (r *ServerGormRepository) DeleteServer(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Where("name = ?", name).Delete(&domainServer.Server{}).Error
}

// CheckCapacity probes the catalog row against the live bot count. It never
// mutates; the live count is authoritative when the two disagree.
func (r *ServerGormRepository) CheckCapacity(ctx context.Context, name string) (domainServer.Capacity, error) {
	srv, err := r.GetServer(ctx, name)
	if err != nil {
		return domainServer.Capacity{}, err
	}

	var live int64
	if err := r.db.WithContext(ctx).Model(&domainInstance.BotInstance{}).
		Where("server_name = ?", name).Count(&live).Error; err != nil {
		return domainServer.Capacity{}, err
	}

	current := int(live)
	return domainServer.Capacity{
		CanAdd:  current < srv.MaxBotCount,
		Current: current,
		Max:     srv.MaxBotCount,
		Server:  name,
	}, nil
}

func (r *ServerGormRepository) GetRegistration(ctx context.Context, phone string) (*domainServer.GlobalRegistration, error) {
	var reg domainServer.GlobalRegistration
	err := r.db.WithContext(ctx).Where("phone_number = ?", phone).First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *ServerGormRepository) ListRegistrations(ctx context.Context) ([]domainServer.GlobalRegistration, error) {
	var regs []domainServer.GlobalRegistration
	err := r.db.WithContext(ctx).Order("registered_at asc").Find(&regs).Error
	return regs, err
}

func (r *ServerGormRepository) DeleteRegistration(ctx context.Context, phone string) error {
	return r.db.WithContext(ctx).Where("phone_number = ?", phone).
		Delete(&domainServer.GlobalRegistration{}).Error
}

func (r *ServerGormRepository) UpdateRegistration(ctx context.Context, phone, serverName string) error {
	res := r.db.WithContext(ctx).Model(&domainServer.GlobalRegistration{}).
		Where("phone_number = ?", phone).
		Update("server_name", serverName)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgError.NotFoundError("no registration for " + phone)
	}
	return nil
}

func (r *ServerGormRepository) GetOffer(ctx context.Context, serverName string) (*domainServer.OfferConfig, error) {
	var offer domainServer.OfferConfig
	err := r.db.WithContext(ctx).Where("server_name = ?", serverName).First(&offer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *ServerGormRepository) UpsertOffer(ctx context.Context, offer *domainServer.OfferConfig) error {
	offer.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(offer).Error
}
