package guest

import (
	"context"
	"time"
)

const (
	// OTPTTL bounds how long a WhatsApp-delivered code stays valid.
	OTPTTL = 10 * time.Minute
	// TokenTTL bounds an issued guest token.
	TokenTTL = 2 * time.Hour
)

// Session tracks one in-flight guest authentication per phone number.
type Session struct {
	PhoneNumber  string    `json:"phone_number"`
	OTP          string    `json:"otp"`
	OTPExpiresAt time.Time `json:"otp_expires_at"`
	BotID        string    `json:"bot_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionStore holds guest sessions. The in-memory implementation does not
// survive restarts; the Valkey one is shared across processes of the same
// tenancy.
type SessionStore interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, phone string) (*Session, error)
	Delete(ctx context.Context, phone string) error
}

type SendOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

type SessionProofRequest struct {
	SessionID string `json:"session_id"` // base64-encoded credentials blob
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	BotID     string    `json:"bot_id,omitempty"`
	Phone     string    `json:"phone_number"`
}

// IGuestUsecase is the guest authentication and self-service surface (C7).
type IGuestUsecase interface {
	SendOTP(ctx context.Context, req SendOTPRequest) error
	VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*AuthResponse, error)
	VerifySessionProof(ctx context.Context, req SessionProofRequest) (*AuthResponse, error)
	RotateCredentials(ctx context.Context, phone, botID, credentials string) error
	ValidateToken(token string) (phone, botID string, err error)
}
