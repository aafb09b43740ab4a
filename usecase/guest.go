package usecase

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainGuest "github.com/wafleet/wafleet/domains/guest"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
	"github.com/wafleet/wafleet/tenancy"
	"github.com/wafleet/wafleet/vault"
)

// GuestClaims is the short-lived guest token payload.
type GuestClaims struct {
	Phone string `json:"phone"`
	BotID string `json:"bot_id"`
	jwt.RegisteredClaims
}

// ConnectionTester proves a credential blob opens a live session before it
// is allowed to replace the stored one.
type ConnectionTester interface {
	TestCredentials(ctx context.Context, tag, credentials string) error
}

type guestService struct {
	bots       domainInstance.IInstanceRepository
	servers    domainServer.IServerRepository
	store      domainGuest.SessionStore
	supervisor domainInstance.ISupervisor
	vault      *vault.Vault
	directDB   *tenancy.DirectDB
	rpc        *tenancy.Client
	tester     ConnectionTester
	activity   domainActivity.IActivityRepository
	tenancy    string
	jwtSecret  []byte
}

func NewGuestUsecase(bots domainInstance.IInstanceRepository, servers domainServer.IServerRepository, store domainGuest.SessionStore, supervisor domainInstance.ISupervisor, v *vault.Vault, directDB *tenancy.DirectDB, rpc *tenancy.Client, tester ConnectionTester, activity domainActivity.IActivityRepository, tenancyName, jwtSecret string) domainGuest.IGuestUsecase {
	return &guestService{
		bots:       bots,
		servers:    servers,
		store:      store,
		supervisor: supervisor,
		vault:      v,
		directDB:   directDB,
		rpc:        rpc,
		tester:     tester,
		activity:   activity,
		tenancy:    tenancyName,
		jwtSecret:  []byte(jwtSecret),
	}
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// SendOTP delivers a one-time code to the guest's own WhatsApp chat through
// their bot. Issuing a second OTP invalidates the first.
func (s *guestService) SendOTP(ctx context.Context, req domainGuest.SendOTPRequest) error {
	phone := utils.SanitizePhone(req.PhoneNumber)
	if !utils.IsValidPhone(phone) {
		return pkgError.ValidationError("invalid phone number")
	}

	bot, err := s.bots.GetByPhone(ctx, phone)
	if err != nil {
		return pkgError.NotFoundError("no bot registered for this phone on this server")
	}
	if bot.ApprovalStatus != domainInstance.ApprovalApproved {
		return pkgError.PermissionError("bot is not approved")
	}
	if bot.Expired(time.Now()) {
		return pkgError.PermissionError("bot subscription has expired")
	}
	if !bot.CredentialVerified {
		return pkgError.PermissionError("bot credentials are not verified, use the session proof flow")
	}

	otp, err := generateOTP()
	if err != nil {
		return pkgError.InternalServerError("failed to generate OTP")
	}

	sess := domainGuest.Session{
		PhoneNumber:  phone,
		OTP:          otp,
		OTPExpiresAt: time.Now().Add(domainGuest.OTPTTL),
		BotID:        bot.ID,
		CreatedAt:    time.Now(),
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to store OTP session: %v", err))
	}

	text := fmt.Sprintf("Your verification code is %s. It expires in 10 minutes.", otp)
	if err := s.supervisor.SendMessageThroughBot(ctx, bot.ID, phone, text); err != nil {
		_ = s.store.Delete(ctx, phone)
		return pkgError.ValidationError("could not deliver the code, the bot is not online")
	}

	logrus.Infof("[GUEST] OTP sent to %s via bot %s", phone, bot.ID)
	return nil
}

// VerifyOTP exchanges a valid code for a guest token.
func (s *guestService) VerifyOTP(ctx context.Context, req domainGuest.VerifyOTPRequest) (*domainGuest.AuthResponse, error) {
	phone := utils.SanitizePhone(req.PhoneNumber)

	sess, err := s.store.Get(ctx, phone)
	if err != nil {
		return nil, pkgError.InternalServerError(fmt.Sprintf("failed to read OTP session: %v", err))
	}
	if sess == nil {
		return nil, pkgError.AuthError("no pending code for this phone, request a new one")
	}
	if !time.Now().Before(sess.OTPExpiresAt) {
		_ = s.store.Delete(ctx, phone)
		return nil, pkgError.AuthError("the code has expired, request a new one")
	}
	if subtle.ConstantTimeCompare([]byte(sess.OTP), []byte(req.OTP)) != 1 {
		return nil, pkgError.AuthError("incorrect code")
	}

	_ = s.store.Delete(ctx, phone)
	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:          domainActivity.TypeGuestAuth,
		Description:   fmt.Sprintf("guest %s authenticated via OTP", phone),
		BotInstanceID: sess.BotID,
	})
	return s.issueToken(phone, sess.BotID)
}

// VerifySessionProof authenticates a guest by their uploaded session blob:
// owning the credentials proves owning the phone. On success the fresh blob
// replaces the stored one on the canonical tenancy.
func (s *guestService) VerifySessionProof(ctx context.Context, req domainGuest.SessionProofRequest) (*domainGuest.AuthResponse, error) {
	parsed, err := s.vault.Validate(ctx, req.SessionID, "", "")
	if err != nil {
		// The uniqueness conflict is expected here: the phone SHOULD be
		// registered already. Anything else is a real validation failure.
		if _, ok := err.(pkgError.ConflictError); !ok {
			return nil, err
		}
	}
	if parsed == nil {
		parsed, err = s.vault.ParseOnly(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
	}

	reg, err := s.servers.GetRegistration(ctx, parsed.Phone)
	if err != nil {
		return nil, pkgError.InternalServerError(fmt.Sprintf("failed to check registration: %v", err))
	}
	if reg == nil {
		return nil, pkgError.NotFoundError("this phone number is not registered on any server")
	}

	bot, err := s.directDB.FindBot(ctx, reg.ServerName, parsed.Phone)
	if err != nil {
		return nil, err
	}

	// The blob must open a real session before it may replace the stored
	// credentials on the canonical tenancy.
	if err := s.tester.TestCredentials(ctx, bot.ID, parsed.Normalized); err != nil {
		if markErr := s.directDB.MarkCredentialsInvalid(ctx, reg.ServerName, bot.ID, fmt.Sprintf("session proof connection test failed: %v", err)); markErr != nil {
			logrus.Warnf("[GUEST] Failed to flag credentials for bot %s: %v", bot.ID, markErr)
		}
		return nil, err
	}

	if err := s.directDB.UpdateCredentials(ctx, reg.ServerName, bot.ID, parsed.Normalized); err != nil {
		return nil, err
	}
	if reg.ServerName == s.tenancy {
		if err := s.vault.Store(bot.ID, parsed.Normalized); err != nil {
			logrus.Warnf("[GUEST] Vault mirror failed for bot %s: %v", bot.ID, err)
		}
		// Best effort confirmation into the guest's own chat.
		if err := s.supervisor.SendMessageThroughBot(ctx, bot.ID, parsed.Phone, "Session verified successfully."); err != nil {
			logrus.Debugf("[GUEST] Confirmation message not delivered: %v", err)
		}
	} else {
		// The owning tenancy holds the live session, so the confirmation
		// goes over the RPC plane. Best effort as well.
		if err := s.rpc.Notify(ctx, reg.ServerName, bot.ID, "Session verified successfully."); err != nil {
			logrus.Debugf("[GUEST] Remote confirmation not delivered: %v", err)
		}
	}

	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:          domainActivity.TypeGuestAuth,
		Description:   fmt.Sprintf("guest %s authenticated via session proof", parsed.Phone),
		BotInstanceID: bot.ID,
	})
	return s.issueToken(parsed.Phone, bot.ID)
}

// RotateCredentials replaces an authenticated guest's credential blob and
// bounces the session so the new creds take effect.
func (s *guestService) RotateCredentials(ctx context.Context, phone, botID, credentials string) error {
	phone = utils.SanitizePhone(phone)

	parsed, err := s.vault.Validate(ctx, credentials, phone, botID)
	if err != nil {
		return err
	}

	reg, err := s.servers.GetRegistration(ctx, phone)
	if err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to check registration: %v", err))
	}
	canonical := s.tenancy
	if reg != nil {
		canonical = reg.ServerName
	}

	if canonical != s.tenancy {
		if err := s.rpc.UpdateCredentials(ctx, canonical, botID, phone, credentials); err != nil {
			return err
		}
		if err := s.rpc.Lifecycle(ctx, canonical, botID, "restart"); err != nil {
			logrus.Warnf("[GUEST] Remote restart after rotation failed for bot %s: %v", botID, err)
		}
		return nil
	}

	if err := s.vault.Store(botID, parsed.Normalized); err != nil {
		return err
	}
	if err := s.bots.UpdateFields(ctx, botID, map[string]any{
		"credentials":         parsed.Normalized,
		"credential_verified": true,
		"invalid_reason":      "",
	}); err != nil {
		return err
	}

	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:          domainActivity.TypeCredUpdate,
		Description:   fmt.Sprintf("credentials rotated for %s", phone),
		BotInstanceID: botID,
	})

	if err := s.supervisor.RestartBot(ctx, botID); err != nil {
		logrus.Warnf("[GUEST] Restart after rotation failed for bot %s: %v", botID, err)
	}
	return nil
}

func (s *guestService) issueToken(phone, botID string) (*domainGuest.AuthResponse, error) {
	now := time.Now()
	expiresAt := now.Add(domainGuest.TokenTTL)
	claims := &GuestClaims{
		Phone: phone,
		BotID: botID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    s.tenancy,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, pkgError.InternalServerError("failed to sign guest token")
	}
	return &domainGuest.AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		BotID:     botID,
		Phone:     phone,
	}, nil
}

// ValidateToken checks a guest bearer token and returns its identity.
func (s *guestService) ValidateToken(tokenString string) (string, string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &GuestClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", pkgError.AuthError("invalid or expired token")
	}
	claims, ok := token.Claims.(*GuestClaims)
	if !ok || !token.Valid {
		return "", "", pkgError.AuthError("invalid token")
	}
	return claims.Phone, claims.BotID, nil
}
