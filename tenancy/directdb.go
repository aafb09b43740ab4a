package tenancy

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	pkgError "github.com/wafleet/wafleet/pkg/error"
)

// DirectDB is the fast path for row-only cross-tenancy operations. All
// tenancies share one database, so credential updates, feature toggles,
// status reads and activity logging skip HTTP and write rows scoped to
// (phone, canonical tenancy). Lifecycle commands never come through here:
// they need a live supervisor on the owning process.
type DirectDB struct {
	tenancy  string
	bots     domainInstance.IInstanceRepository
	activity domainActivity.IActivityRepository
}

func NewDirectDB(tenancy string, bots domainInstance.IInstanceRepository, activity domainActivity.IActivityRepository) *DirectDB {
	return &DirectDB{tenancy: tenancy, bots: bots, activity: activity}
}

// FindBot resolves a bot by phone on its canonical tenancy.
func (d *DirectDB) FindBot(ctx context.Context, canonical, phone string) (*domainInstance.BotInstance, error) {
	bot, err := d.bots.GetBotOnServerByPhone(ctx, canonical, phone)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, pkgError.NotFoundError(fmt.Sprintf("no bot for %s on %s", phone, canonical))
	}
	return bot, nil
}

// UpdateCredentials writes a validated credential blob onto the owning
// tenancy's row. The caller must have validated the blob through the vault.
func (d *DirectDB) UpdateCredentials(ctx context.Context, canonical, botID, normalized string) error {
	err := d.bots.UpdateBotOnServer(ctx, canonical, botID, map[string]any{
		"credentials":         normalized,
		"credential_verified": true,
		"invalid_reason":      "",
	})
	if err != nil {
		return err
	}
	d.log(ctx, canonical, botID, domainActivity.TypeCredUpdate, "credentials updated via direct-DB path")
	return nil
}

// MarkCredentialsInvalid clears the verified flag after a failed remote
// connection test.
func (d *DirectDB) MarkCredentialsInvalid(ctx context.Context, canonical, botID, reason string) error {
	err := d.bots.UpdateBotOnServer(ctx, canonical, botID, map[string]any{
		"credential_verified": false,
		"invalid_reason":      reason,
	})
	if err != nil {
		return err
	}
	d.log(ctx, canonical, botID, domainActivity.TypeCredUpdate, "credentials marked invalid: "+reason)
	return nil
}

// SetFeatureFlags toggles row-level feature flags on the owning tenancy.
func (d *DirectDB) SetFeatureFlags(ctx context.Context, canonical, botID string, flags map[string]any) error {
	allowed := map[string]bool{
		"auto_like": true, "auto_react": true, "auto_view_status": true,
		"chatgpt_enabled": true, "always_online": true, "presence_auto_switch": true,
	}
	fields := make(map[string]any, len(flags))
	for k, v := range flags {
		if !allowed[k] {
			return pkgError.ValidationError("unknown feature flag: " + k)
		}
		fields[k] = v
	}
	if len(fields) == 0 {
		return pkgError.ValidationError("no feature flags provided")
	}
	return d.bots.UpdateBotOnServer(ctx, canonical, botID, fields)
}

// ReadStatus reads the persisted bot state on the owning tenancy. Live
// worker status requires the HTTP RPC status op instead.
func (d *DirectDB) ReadStatus(ctx context.Context, canonical, botID string) (*domainInstance.BotInstance, error) {
	return d.bots.GetBotOnServer(ctx, canonical, botID)
}

func (d *DirectDB) log(ctx context.Context, canonical, botID, actType, description string) {
	act := &domainActivity.Activity{
		Type:          actType,
		Description:   description,
		BotInstanceID: botID,
	}
	if err := d.activity.CreateCrossTenancyActivity(ctx, canonical, act); err != nil {
		logrus.Warnf("[TENANCY] Failed to log direct-DB activity: %v", err)
	}
}
