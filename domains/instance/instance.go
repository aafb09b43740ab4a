package instance

import (
	"context"
	"time"
)

// Status is the coarse runtime state of a bot.
type Status string

const (
	StatusOffline Status = "offline"
	StatusLoading Status = "loading"
	StatusOnline  Status = "online"
	StatusError   Status = "error"
	StatusDormant Status = "dormant"
)

// ApprovalStatus is the admin lifecycle decision for a bot.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalDormant  ApprovalStatus = "dormant"
)

// BotInstance is the central entity: a persistent record and, when running,
// a live WhatsApp session homed on exactly one tenancy.
type BotInstance struct {
	ID          string `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"uniqueIndex:idx_bot_name_server" json:"name"`
	PhoneNumber string `gorm:"uniqueIndex:idx_bot_phone_server" json:"phone_number"`
	ServerName  string `gorm:"uniqueIndex:idx_bot_name_server;uniqueIndex:idx_bot_phone_server;index" json:"server_name"`

	// Credentials is the raw JSON session blob; unique per tenancy.
	Credentials        *string `gorm:"type:text" json:"-"`
	CredentialVerified bool    `json:"credential_verified"`
	InvalidReason      string  `json:"invalid_reason,omitempty"`

	Status           Status         `gorm:"default:offline" json:"status"`
	ApprovalStatus   ApprovalStatus `gorm:"default:pending" json:"approval_status"`
	ApprovalDate     *time.Time     `json:"approval_date,omitempty"`
	ExpirationMonths int            `json:"expiration_months"`

	AutoLike           bool   `json:"auto_like"`
	AutoReact          bool   `json:"auto_react"`
	AutoViewStatus     bool   `json:"auto_view_status"`
	ChatgptEnabled     bool   `json:"chatgpt_enabled"`
	AlwaysOnline       bool   `json:"always_online"`
	PresenceAutoSwitch bool   `json:"presence_auto_switch"`
	TypingMode         string `json:"typing_mode,omitempty"`
	PresenceMode       string `json:"presence_mode,omitempty"`

	AutoStart bool `json:"auto_start"`
	IsGuest   bool `json:"is_guest"`

	MessagesCount int64     `json:"messages_count"`
	CommandsCount int64     `json:"commands_count"`
	LastActivity  time.Time `json:"last_activity"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the approval window has lapsed. A bot is expired
// at the exact instant approvalDate + expirationMonths*30d is reached.
func (b *BotInstance) Expired(now time.Time) bool {
	if b.ApprovalStatus != ApprovalApproved || b.ApprovalDate == nil || b.ExpirationMonths <= 0 {
		return false
	}
	deadline := b.ApprovalDate.Add(time.Duration(b.ExpirationMonths) * 30 * 24 * time.Hour)
	return !now.Before(deadline)
}

// GuestView is the masked projection returned on guest-scoped endpoints:
// no credentials, no foreign tenancy internals, coarse counters only.
type GuestView struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	PhoneNumber        string         `json:"phone_number"`
	Status             Status         `json:"status"`
	ApprovalStatus     ApprovalStatus `json:"approval_status"`
	ExpirationMonths   int            `json:"expiration_months"`
	CredentialVerified bool           `json:"credential_verified"`
	AutoLike           bool           `json:"auto_like"`
	AutoReact          bool           `json:"auto_react"`
	AutoViewStatus     bool           `json:"auto_view_status"`
	ChatgptEnabled     bool           `json:"chatgpt_enabled"`
	AlwaysOnline       bool           `json:"always_online"`
	LastActivity       time.Time      `json:"last_activity"`
}

// MaskForGuest strips everything a phone-number holder has no business seeing.
func (b *BotInstance) MaskForGuest() GuestView {
	return GuestView{
		ID:                 b.ID,
		Name:               b.Name,
		PhoneNumber:        b.PhoneNumber,
		Status:             b.Status,
		ApprovalStatus:     b.ApprovalStatus,
		ExpirationMonths:   b.ExpirationMonths,
		CredentialVerified: b.CredentialVerified,
		AutoLike:           b.AutoLike,
		AutoReact:          b.AutoReact,
		AutoViewStatus:     b.AutoViewStatus,
		ChatgptEnabled:     b.ChatgptEnabled,
		AlwaysOnline:       b.AlwaysOnline,
		LastActivity:       b.LastActivity,
	}
}

type CreateBotRequest struct {
	Name             string `json:"name"`
	PhoneNumber      string `json:"phone_number"`
	Credentials      string `json:"credentials,omitempty"`
	SelectedServer   string `json:"selected_server,omitempty"`
	ExpirationMonths int    `json:"expiration_months,omitempty"`
	IsGuest          bool   `json:"is_guest,omitempty"`
}

// UpdateBotRequest carries partial updates; nil pointers leave fields alone.
type UpdateBotRequest struct {
	Name               *string `json:"name,omitempty"`
	AutoLike           *bool   `json:"auto_like,omitempty"`
	AutoReact          *bool   `json:"auto_react,omitempty"`
	AutoViewStatus     *bool   `json:"auto_view_status,omitempty"`
	ChatgptEnabled     *bool   `json:"chatgpt_enabled,omitempty"`
	AlwaysOnline       *bool   `json:"always_online,omitempty"`
	PresenceAutoSwitch *bool   `json:"presence_auto_switch,omitempty"`
	TypingMode         *string `json:"typing_mode,omitempty"`
	PresenceMode       *string `json:"presence_mode,omitempty"`
	AutoStart          *bool   `json:"auto_start,omitempty"`
}

type ApproveBotRequest struct {
	ExpirationMonths int    `json:"expiration_months"`
	TargetServer     string `json:"target_server,omitempty"`
}

type BatchItem struct {
	BotID      string `json:"bot_id"`
	ServerName string `json:"server_name"`
}

type BatchRequest struct {
	Action string      `json:"action"` // start|stop|approve|revoke|delete|migrate
	Items  []BatchItem `json:"items"`
	// Approve/migrate options
	ExpirationMonths int    `json:"expiration_months,omitempty"`
	TargetServer     string `json:"target_server,omitempty"`
}

type BatchResult struct {
	BotID string `json:"bot_id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// IInstanceRepository is the tenancy-scoped registry store for bots (C1).
// Every method is implicitly filtered by the caller's tenancy except the
// *OnServer methods, which take the target tenancy explicitly and must only
// be reached through the cross-tenancy RPC layer.
type IInstanceRepository interface {
	Create(ctx context.Context, bot *BotInstance) error
	GetByID(ctx context.Context, id string) (*BotInstance, error)
	GetByPhone(ctx context.Context, phone string) (*BotInstance, error)
	List(ctx context.Context) ([]BotInstance, error)
	ListFleet(ctx context.Context) ([]BotInstance, error)
	ListResumable(ctx context.Context) ([]BotInstance, error)
	Update(ctx context.Context, bot *BotInstance) error
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error

	// Cross-tenancy (trusted callers only)
	GetBotOnServer(ctx context.Context, serverName, botID string) (*BotInstance, error)
	GetBotOnServerByPhone(ctx context.Context, serverName, phone string) (*BotInstance, error)
	UpdateBotOnServer(ctx context.Context, serverName, botID string, fields map[string]any) error
}

// IInstanceUsecase is the admin-facing lifecycle surface (C8).
type IInstanceUsecase interface {
	List(ctx context.Context) ([]BotInstance, error)
	Fleet(ctx context.Context) ([]BotInstance, error)
	GetByID(ctx context.Context, id string) (*BotInstance, error)
	Update(ctx context.Context, id string, req UpdateBotRequest) (*BotInstance, error)
	Approve(ctx context.Context, id string, req ApproveBotRequest) (*BotInstance, error)
	Revoke(ctx context.Context, id string) (*BotInstance, error)
	Reject(ctx context.Context, id string) (*BotInstance, error)
	Delete(ctx context.Context, id string) error
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Batch(ctx context.Context, req BatchRequest) []BatchResult
}
