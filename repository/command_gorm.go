package repository

import (
	"context"
	"errors"

	domainCommand "github.com/wafleet/wafleet/domains/command"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"gorm.io/gorm"
)

type CommandGormRepository struct {
	db      *gorm.DB
	tenancy string
}

func NewCommandGormRepository(db *gorm.DB, tenancy string) *CommandGormRepository {
	return &CommandGormRepository{db: db, tenancy: tenancy}
}

func (r *CommandGormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&domainCommand.Command{})
}

func (r *CommandGormRepository) Create(ctx context.Context, cmd *domainCommand.Command) error {
	cmd.ServerName = r.tenancy
	return r.db.WithContext(ctx).Create(cmd).Error
}

func (r *CommandGormRepository) List(ctx context.Context) ([]domainCommand.Command, error) {
	var cmds []domainCommand.Command
	err := r.db.WithContext(ctx).
		Where("server_name = ?", r.tenancy).
		Order("name asc").Find(&cmds).Error
	return cmds, err
}

func (r *CommandGormRepository) GetByName(ctx context.Context, name string) (*domainCommand.Command, error) {
	var cmd domainCommand.Command
	err := r.db.WithContext(ctx).
		Where("server_name = ? AND name = ?", r.tenancy, name).
		First(&cmd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgError.NotFoundError("command " + name + " not found")
	}
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (r *CommandGormRepository) Update(ctx context.Context, cmd *domainCommand.Command) error {
	if cmd.ServerName != r.tenancy {
		return pkgError.PermissionError("cannot update a command on another server")
	}
	return r.db.WithContext(ctx).Save(cmd).Error
}

func (r *CommandGormRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND server_name = ?", id, r.tenancy).
		Delete(&domainCommand.Command{}).Error
}
