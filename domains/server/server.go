package server

import (
	"context"
	"time"
)

// Server is the catalog entry for one tenancy in the fleet.
type Server struct {
	Name            string `gorm:"primaryKey" json:"name"`
	MaxBotCount     int    `json:"max_bot_count"`
	CurrentBotCount int    `json:"current_bot_count"`
	Status          string `gorm:"default:active" json:"status"`
	Description     string `json:"description,omitempty"`
	URL             string `json:"url,omitempty"`
	// SharedSecret signs cross-tenancy RPC tokens from this peer. Never
	// serialized in API responses.
	SharedSecret string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GlobalRegistration is the god-registry row: each phone number maps to
// exactly one owning tenancy across the whole fleet.
type GlobalRegistration struct {
	PhoneNumber  string    `gorm:"primaryKey" json:"phone_number"`
	ServerName   string    `gorm:"index" json:"server_name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// OfferConfig is the per-tenancy promotional mode. While active and
// unexpired, newly registered guest bots bypass manual approval.
type OfferConfig struct {
	ServerName    string    `gorm:"primaryKey" json:"server_name"`
	IsActive      bool      `json:"is_active"`
	StartDate     time.Time `json:"start_date"`
	DurationType  string    `json:"duration_type"` // days|weeks|months
	DurationValue int       `json:"duration_value"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ActiveAt reports whether the offer is running at the given instant.
func (o *OfferConfig) ActiveAt(now time.Time) bool {
	if o == nil || !o.IsActive {
		return false
	}
	var d time.Duration
	switch o.DurationType {
	case "days":
		d = time.Duration(o.DurationValue) * 24 * time.Hour
	case "weeks":
		d = time.Duration(o.DurationValue) * 7 * 24 * time.Hour
	case "months":
		d = time.Duration(o.DurationValue) * 30 * 24 * time.Hour
	default:
		return false
	}
	return now.Before(o.StartDate.Add(d)) && !now.Before(o.StartDate)
}

// Capacity is the result of a non-mutating capacity probe.
type Capacity struct {
	CanAdd  bool   `json:"can_add"`
	Current int    `json:"current"`
	Max     int    `json:"max"`
	Server  string `json:"server"`
}

// IServerRepository persists the server catalog, the god registry and the
// offer config (part of C1).
type IServerRepository interface {
	GetServer(ctx context.Context, name string) (*Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	UpsertServer(ctx context.Context, srv *Server) error
	DeleteServer(ctx context.Context, name string) error
	CheckCapacity(ctx context.Context, name string) (Capacity, error)

	GetRegistration(ctx context.Context, phone string) (*GlobalRegistration, error)
	ListRegistrations(ctx context.Context) ([]GlobalRegistration, error)
	DeleteRegistration(ctx context.Context, phone string) error
	UpdateRegistration(ctx context.Context, phone, serverName string) error

	GetOffer(ctx context.Context, serverName string) (*OfferConfig, error)
	UpsertOffer(ctx context.Context, offer *OfferConfig) error
}

type UpdateServerRequest struct {
	MaxBotCount  *int    `json:"max_bot_count,omitempty"`
	Status       *string `json:"status,omitempty"`
	Description  *string `json:"description,omitempty"`
	URL          *string `json:"url,omitempty"`
	SharedSecret *string `json:"shared_secret,omitempty"`
}

// IServerUsecase is the admin surface for catalog, god registry and offer.
// Editing the local server row never changes the runtime tenancy name.
type IServerUsecase interface {
	List(ctx context.Context) ([]Server, error)
	Get(ctx context.Context, name string) (*Server, error)
	Update(ctx context.Context, name string, req UpdateServerRequest) (*Server, error)
	Delete(ctx context.Context, name string) error

	ListRegistrations(ctx context.Context) ([]GlobalRegistration, error)
	ReassignRegistration(ctx context.Context, phone, serverName string) error
	DeleteRegistration(ctx context.Context, phone string) error

	GetOffer(ctx context.Context) (*OfferConfig, error)
	SetOffer(ctx context.Context, offer OfferConfig) (*OfferConfig, error)
}
