package activity

import (
	"context"
	"time"
)

// Activity is an append-only audit record. Rows are never deleted except
// through the owning bot's cascade delete.
type Activity struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Type          string    `gorm:"index" json:"type"`
	Description   string    `json:"description"`
	Metadata      string    `gorm:"type:text" json:"metadata,omitempty"` // JSON bag
	ServerName    string    `gorm:"index" json:"server_name"`
	BotInstanceID string    `gorm:"index" json:"bot_instance_id,omitempty"`
	RemoteServer  string    `json:"remote_server,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	TypeStartup       = "startup"
	TypeRegistration  = "registration"
	TypeApproval      = "approval"
	TypeRevocation    = "revocation"
	TypeRejection     = "rejection"
	TypeDeletion      = "deletion"
	TypeMigration     = "migration"
	TypeAutoCleanup   = "auto_cleanup"
	TypeBotError      = "bot_error"
	TypeCrossTenancy  = "cross_tenancy"
	TypeGuestAuth     = "guest_auth"
	TypeCredUpdate    = "credential_update"
	TypeOfferApproval = "offer_auto_approval"
)

type IActivityRepository interface {
	Log(ctx context.Context, act *Activity) error
	List(ctx context.Context, limit int) ([]Activity, error)
	ListForBot(ctx context.Context, botID string, limit int) ([]Activity, error)
	// CreateCrossTenancyActivity writes on the target tenancy's scope;
	// restricted to the RPC layer.
	CreateCrossTenancyActivity(ctx context.Context, targetServer string, act *Activity) error
}
