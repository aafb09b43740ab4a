package command

import (
	"context"
	"time"
)

// Command is per-tenancy named handler metadata. Runtime dispatch is
// external; the core only stores and serves these records.
type Command struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"uniqueIndex:idx_cmd_name_server" json:"name"`
	ServerName    string    `gorm:"uniqueIndex:idx_cmd_name_server;index" json:"server_name"`
	Description   string    `json:"description,omitempty"`
	Response      string    `gorm:"type:text" json:"response,omitempty"`
	Category      string    `json:"category,omitempty"`
	IsActive      bool      `gorm:"default:true" json:"is_active"`
	IsCustom      bool      `json:"is_custom"`
	BotInstanceID string    `gorm:"index" json:"bot_instance_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ICommandRepository interface {
	Create(ctx context.Context, cmd *Command) error
	List(ctx context.Context) ([]Command, error)
	GetByName(ctx context.Context, name string) (*Command, error)
	Update(ctx context.Context, cmd *Command) error
	Delete(ctx context.Context, id uint) error
}

type CreateCommandRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Response    string `json:"response"`
	Category    string `json:"category"`
	IsActive    bool   `json:"is_active"`
}

type ICommandUsecase interface {
	Create(ctx context.Context, req CreateCommandRequest) (*Command, error)
	List(ctx context.Context) ([]Command, error)
	Update(ctx context.Context, id uint, req CreateCommandRequest) (*Command, error)
	Delete(ctx context.Context, id uint) error
}
