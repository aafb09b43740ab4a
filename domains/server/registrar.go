package server

import (
	"context"

	"github.com/wafleet/wafleet/domains/instance"
)

// IRegistrar performs the multi-row registry mutations that must be
// transactional: a reader between sub-steps may never observe a
// half-inserted bot.
type IRegistrar interface {
	// CreateCrossServerRegistration atomically verifies the phone is
	// unregistered, checks target capacity, inserts the bot on the target
	// tenancy, inserts the god-registry row and bumps the server count.
	// On any failure no rows persist.
	CreateCrossServerRegistration(ctx context.Context, phone, targetServer string, bot *instance.BotInstance) error

	// RollbackCrossServerRegistration undoes a successful registration.
	// Idempotent and must not fail on already-removed rows.
	RollbackCrossServerRegistration(ctx context.Context, phone, botID, serverName string) error

	// CascadeDeleteBot removes the bot's activities, its commands, the bot
	// row, its god-registry entry and decrements the server count.
	CascadeDeleteBot(ctx context.Context, serverName, botID string) error

	// MigrateBot moves a bot between tenancy scopes, repointing the
	// god-registry row and adjusting both server counts.
	MigrateBot(ctx context.Context, botID, source, target string) error
}
