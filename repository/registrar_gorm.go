package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainCommand "github.com/wafleet/wafleet/domains/command"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RegistrarGorm implements the transactional god-registry mutations. All
// multi-row operations run inside a single gorm transaction so partial
// state is never visible.
type RegistrarGorm struct {
	db *gorm.DB
}

func NewRegistrarGorm(db *gorm.DB) *RegistrarGorm {
	return &RegistrarGorm{db: db}
}

func (r *RegistrarGorm) CreateCrossServerRegistration(ctx context.Context, phone, targetServer string, bot *domainInstance.BotInstance) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. No prior god-registry row for this phone.
		var existing domainServer.GlobalRegistration
		err := tx.Where("phone_number = ?", phone).First(&existing).Error
		if err == nil {
			return pkgError.ConflictError{
				Message:      fmt.Sprintf("This phone number is registered to %s. Please use that server to manage your bot", existing.ServerName),
				RegisteredTo: existing.ServerName,
			}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// 2. Target capacity.
		var srv domainServer.Server
		if err := tx.Where("name = ?", targetServer).First(&srv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgError.NotFoundError("server " + targetServer + " not found")
			}
			return err
		}
		if srv.CurrentBotCount >= srv.MaxBotCount {
			return pkgError.CapacityError{Server: srv.Name, Current: srv.CurrentBotCount, Max: srv.MaxBotCount}
		}

		// 3. Insert the bot on the target tenancy.
		bot.ServerName = targetServer
		bot.PhoneNumber = phone
		if err := tx.Create(bot).Error; err != nil {
			return err
		}

		// 4. Insert the god-registry row.
		reg := domainServer.GlobalRegistration{
			PhoneNumber:  phone,
			ServerName:   targetServer,
			RegisteredAt: time.Now().UTC(),
		}
		if err := tx.Create(&reg).Error; err != nil {
			return err
		}

		// 5. Bump the server count.
		return tx.Model(&domainServer.Server{}).
			Where("name = ?", targetServer).
			Update("current_bot_count", gorm.Expr("current_bot_count + 1")).Error
	})
}

// RollbackCrossServerRegistration undoes a committed registration. It is
// idempotent: the count is only decremented when the bot row was actually
// removed, and it never returns an error for already-missing rows.
func (r *RegistrarGorm) RollbackCrossServerRegistration(ctx context.Context, phone, botID, serverName string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND server_name = ?", botID, serverName).
			Delete(&domainInstance.BotInstance{})
		if res.Error != nil {
			return res.Error
		}

		if err := tx.Where("phone_number = ? AND server_name = ?", phone, serverName).
			Delete(&domainServer.GlobalRegistration{}).Error; err != nil {
			return err
		}

		if res.RowsAffected > 0 {
			return tx.Model(&domainServer.Server{}).
				Where("name = ? AND current_bot_count > 0", serverName).
				Update("current_bot_count", gorm.Expr("current_bot_count - 1")).Error
		}
		return nil
	})
	if err != nil {
		// Rollback must not throw; the failure is logged and swallowed.
		logrus.WithError(err).WithFields(logrus.Fields{
			"phone":  phone,
			"bot_id": botID,
			"server": serverName,
		}).Error("[REGISTRY] Rollback of cross-server registration failed")
	}
	return nil
}

func (r *RegistrarGorm) CascadeDeleteBot(ctx context.Context, serverName, botID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bot domainInstance.BotInstance
		if err := tx.Where("id = ? AND server_name = ?", botID, serverName).First(&bot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgError.NotFoundError("bot not found")
			}
			return err
		}

		if err := tx.Where("bot_instance_id = ?", botID).
			Delete(&domainActivity.Activity{}).Error; err != nil {
			return err
		}
		if err := tx.Where("bot_instance_id = ?", botID).
			Delete(&domainCommand.Command{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", botID).
			Delete(&domainInstance.BotInstance{}).Error; err != nil {
			return err
		}
		if err := tx.Where("phone_number = ?", bot.PhoneNumber).
			Delete(&domainServer.GlobalRegistration{}).Error; err != nil {
			return err
		}

		return tx.Model(&domainServer.Server{}).
			Where("name = ? AND current_bot_count > 0", serverName).
			Update("current_bot_count", gorm.Expr("current_bot_count - 1")).Error
	})
}

func (r *RegistrarGorm) MigrateBot(ctx context.Context, botID, source, target string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bot domainInstance.BotInstance
		if err := tx.Where("id = ? AND server_name = ?", botID, source).First(&bot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgError.NotFoundError("bot not found on " + source)
			}
			return err
		}

		var dst domainServer.Server
		if err := tx.Where("name = ?", target).First(&dst).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgError.NotFoundError("server " + target + " not found")
			}
			return err
		}
		if dst.CurrentBotCount >= dst.MaxBotCount {
			return pkgError.CapacityError{Server: dst.Name, Current: dst.CurrentBotCount, Max: dst.MaxBotCount}
		}

		if err := tx.Model(&domainInstance.BotInstance{}).
			Where("id = ? AND server_name = ?", botID, source).
			Update("server_name", target).Error; err != nil {
			return err
		}

		if err := tx.Model(&domainServer.GlobalRegistration{}).
			Where("phone_number = ?", bot.PhoneNumber).
			Update("server_name", target).Error; err != nil {
			return err
		}

		if err := tx.Model(&domainServer.Server{}).
			Where("name = ? AND current_bot_count > 0", source).
			Update("current_bot_count", gorm.Expr("current_bot_count - 1")).Error; err != nil {
			return err
		}
		return tx.Model(&domainServer.Server{}).
			Where("name = ?", target).
			Update("current_bot_count", gorm.Expr("current_bot_count + 1")).Error
	})
}
