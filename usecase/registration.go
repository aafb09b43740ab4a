package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	"github.com/wafleet/wafleet/placement"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
	"github.com/wafleet/wafleet/vault"
)

const defaultExpirationMonths = 1

// RegistrationResult is what the register endpoint returns to the end user.
type RegistrationResult struct {
	Bot          domainInstance.GuestView `json:"bot"`
	ServerName   string                   `json:"server_name"`
	CrossServer  bool                     `json:"cross_server"`
	AutoApproved bool                     `json:"auto_approved"`
	Message      string                   `json:"message,omitempty"`
}

type registrationService struct {
	bots       domainInstance.IInstanceRepository
	servers    domainServer.IServerRepository
	engine     *placement.Engine
	vault      *vault.Vault
	supervisor domainInstance.ISupervisor
	activity   domainActivity.IActivityRepository
	tenancy    string
}

// IRegistrationUsecase is the public registration entry point.
type IRegistrationUsecase interface {
	Register(ctx context.Context, req domainInstance.CreateBotRequest) (*RegistrationResult, error)
}

func NewRegistrationUsecase(bots domainInstance.IInstanceRepository, servers domainServer.IServerRepository, engine *placement.Engine, v *vault.Vault, supervisor domainInstance.ISupervisor, activity domainActivity.IActivityRepository, tenancy string) IRegistrationUsecase {
	return &registrationService{
		bots:       bots,
		servers:    servers,
		engine:     engine,
		vault:      v,
		supervisor: supervisor,
		activity:   activity,
		tenancy:    tenancy,
	}
}

// Register runs the full placement flow: resolve the owning tenancy, check
// capacity, insert bot + god-registry row transactionally, then apply the
// side effects (vault mirror, watchdog, offer auto-approval). Side-effect
// failure after the transactional insert rolls the registration back.
func (s *registrationService) Register(ctx context.Context, req domainInstance.CreateBotRequest) (*RegistrationResult, error) {
	if req.Name == "" {
		return nil, pkgError.ValidationError("bot name is required")
	}
	phone := utils.SanitizePhone(req.PhoneNumber)
	if !utils.IsValidPhone(phone) {
		return nil, pkgError.ValidationError("phone number must be 10 to 15 digits")
	}

	bot := &domainInstance.BotInstance{
		ID:             uuid.NewString(),
		Name:           req.Name,
		PhoneNumber:    phone,
		Status:         domainInstance.StatusLoading,
		ApprovalStatus: domainInstance.ApprovalPending,
		IsGuest:        req.IsGuest,
		AutoStart:      true,
	}

	if req.Credentials != "" {
		parsed, err := s.vault.Validate(ctx, req.Credentials, phone, "")
		if err != nil {
			return nil, err
		}
		bot.Credentials = &parsed.Normalized
		bot.CredentialVerified = true
		// Validated credentials park the bot in dormant until approval.
		bot.Status = domainInstance.StatusDormant
		bot.ApprovalStatus = domainInstance.ApprovalDormant
	}

	outcome, err := s.engine.Register(ctx, bot, req.SelectedServer)
	if err != nil {
		return nil, err
	}

	if bot.Credentials != nil {
		if err := s.vault.Store(bot.ID, *bot.Credentials); err != nil {
			s.engine.Rollback(ctx, phone, bot.ID, bot.ServerName)
			return nil, err
		}
	}

	if err := s.supervisor.CreateBot(ctx, bot); err != nil {
		logrus.Warnf("[REGISTER] Supervisor registration failed for bot %s: %v", bot.ID, err)
	}

	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:          domainActivity.TypeRegistration,
		Description:   fmt.Sprintf("bot %s registered for %s on %s", bot.Name, phone, bot.ServerName),
		BotInstanceID: bot.ID,
	})

	result := &RegistrationResult{
		Bot:         bot.MaskForGuest(),
		ServerName:  outcome.ServerName,
		CrossServer: outcome.CrossServer,
	}
	if outcome.CrossServer {
		result.Message = fmt.Sprintf("Your bot was registered on %s", outcome.ServerName)
	}

	if s.tryOfferApproval(ctx, bot, req.ExpirationMonths) {
		result.AutoApproved = true
		result.Bot = bot.MaskForGuest()
	}
	return result, nil
}

// tryOfferApproval bypasses manual approval while the target tenancy's
// promotional offer is running. Best effort: an approval failure leaves the
// bot pending, never broken.
func (s *registrationService) tryOfferApproval(ctx context.Context, bot *domainInstance.BotInstance, months int) bool {
	offer, err := s.servers.GetOffer(ctx, bot.ServerName)
	if err != nil || !offer.ActiveAt(time.Now()) {
		return false
	}

	if months <= 0 {
		months = defaultExpirationMonths
	}
	now := time.Now()
	fields := map[string]any{
		"approval_status":   string(domainInstance.ApprovalApproved),
		"approval_date":     now,
		"expiration_months": months,
	}
	if err := s.bots.UpdateBotOnServer(ctx, bot.ServerName, bot.ID, fields); err != nil {
		logrus.Warnf("[REGISTER] Offer auto-approval failed for bot %s: %v", bot.ID, err)
		return false
	}

	bot.ApprovalStatus = domainInstance.ApprovalApproved
	bot.ApprovalDate = &now
	bot.ExpirationMonths = months

	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:          domainActivity.TypeOfferApproval,
		Description:   fmt.Sprintf("bot %s auto-approved under active offer on %s", bot.Name, bot.ServerName),
		BotInstanceID: bot.ID,
	})
	s.supervisor.NotifyApproved(ctx, bot)
	logrus.Infof("[REGISTER] Bot %s auto-approved under offer", bot.ID)
	return true
}
