package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	"github.com/wafleet/wafleet/placement"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/tenancy"
	"github.com/wafleet/wafleet/vault"
)

type instanceService struct {
	bots       domainInstance.IInstanceRepository
	registrar  domainServer.IRegistrar
	engine     *placement.Engine
	supervisor domainInstance.ISupervisor
	activity   domainActivity.IActivityRepository
	vault      *vault.Vault
	rpc        *tenancy.Client
	tenancy    string
}

func NewInstanceUsecase(bots domainInstance.IInstanceRepository, registrar domainServer.IRegistrar, engine *placement.Engine, supervisor domainInstance.ISupervisor, activity domainActivity.IActivityRepository, v *vault.Vault, rpc *tenancy.Client, tenancyName string) domainInstance.IInstanceUsecase {
	return &instanceService{
		bots:       bots,
		registrar:  registrar,
		engine:     engine,
		supervisor: supervisor,
		activity:   activity,
		vault:      v,
		rpc:        rpc,
		tenancy:    tenancyName,
	}
}

func (s *instanceService) List(ctx context.Context) ([]domainInstance.BotInstance, error) {
	bots, err := s.bots.List(ctx)
	if err != nil {
		return nil, err
	}
	// Live worker status wins over the persisted row.
	statuses := s.supervisor.GetAllStatuses()
	for i := range bots {
		if live, ok := statuses[bots[i].ID]; ok {
			bots[i].Status = live
		}
	}
	return bots, nil
}

// Fleet is the master view: bots from every tenancy, local rows overlaid
// with live worker status. Foreign rows keep their persisted status since
// only the owning tenancy knows the live state.
func (s *instanceService) Fleet(ctx context.Context) ([]domainInstance.BotInstance, error) {
	bots, err := s.bots.ListFleet(ctx)
	if err != nil {
		return nil, err
	}
	statuses := s.supervisor.GetAllStatuses()
	for i := range bots {
		if bots[i].ServerName != s.tenancy {
			continue
		}
		if live, ok := statuses[bots[i].ID]; ok {
			bots[i].Status = live
		}
	}
	return bots, nil
}

func (s *instanceService) GetByID(ctx context.Context, id string) (*domainInstance.BotInstance, error) {
	return s.bots.GetByID(ctx, id)
}

func (s *instanceService) Update(ctx context.Context, id string, req domainInstance.UpdateBotRequest) (*domainInstance.BotInstance, error) {
	if _, err := s.bots.GetByID(ctx, id); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	setIf := func(key string, v any, ok bool) {
		if ok {
			fields[key] = v
		}
	}
	setIf("name", derefS(req.Name), req.Name != nil)
	setIf("auto_like", derefB(req.AutoLike), req.AutoLike != nil)
	setIf("auto_react", derefB(req.AutoReact), req.AutoReact != nil)
	setIf("auto_view_status", derefB(req.AutoViewStatus), req.AutoViewStatus != nil)
	setIf("chatgpt_enabled", derefB(req.ChatgptEnabled), req.ChatgptEnabled != nil)
	setIf("always_online", derefB(req.AlwaysOnline), req.AlwaysOnline != nil)
	setIf("presence_auto_switch", derefB(req.PresenceAutoSwitch), req.PresenceAutoSwitch != nil)
	setIf("typing_mode", derefS(req.TypingMode), req.TypingMode != nil)
	setIf("presence_mode", derefS(req.PresenceMode), req.PresenceMode != nil)
	setIf("auto_start", derefB(req.AutoStart), req.AutoStart != nil)

	if len(fields) == 0 {
		return nil, pkgError.ValidationError("no fields to update")
	}
	if err := s.bots.UpdateFields(ctx, id, fields); err != nil {
		return nil, err
	}
	return s.bots.GetByID(ctx, id)
}

func derefS(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefB(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}

// Approve grants a bot its runtime. An optional target server migrates the
// bot as part of the approval.
func (s *instanceService) Approve(ctx context.Context, id string, req domainInstance.ApproveBotRequest) (*domainInstance.BotInstance, error) {
	if req.ExpirationMonths <= 0 {
		return nil, pkgError.ValidationError("expiration_months must be positive")
	}

	bot, err := s.bots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if bot.ApprovalStatus == domainInstance.ApprovalApproved {
		return nil, pkgError.ValidationError("bot is already approved")
	}

	if req.TargetServer != "" && req.TargetServer != bot.ServerName {
		if err := s.engine.Migrate(ctx, bot.ID, bot.ServerName, req.TargetServer); err != nil {
			return nil, err
		}
		_ = s.activity.Log(ctx, &domainActivity.Activity{
			Type:          domainActivity.TypeMigration,
			Description:   fmt.Sprintf("bot %s migrated %s -> %s during approval", bot.Name, bot.ServerName, req.TargetServer),
			BotInstanceID: bot.ID,
		})
		bot.ServerName = req.TargetServer
	}

	now := time.Now()
	fields := map[string]any{
		"approval_status":   string(domainInstance.ApprovalApproved),
		"approval_date":     now,
		"expiration_months": req.ExpirationMonths,
	}
	if err := s.bots.UpdateBotOnServer(ctx, bot.ServerName, bot.ID, fields); err != nil {
		return nil, err
	}
	bot.ApprovalStatus = domainInstance.ApprovalApproved
	bot.ApprovalDate = &now
	bot.ExpirationMonths = req.ExpirationMonths

	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:          domainActivity.TypeApproval,
		Description:   fmt.Sprintf("bot %s approved for %d month(s)", bot.Name, req.ExpirationMonths),
		BotInstanceID: bot.ID,
	})
	s.supervisor.NotifyApproved(ctx, bot)

	// Approved bots with verified credentials go live immediately when the
	// bot lives on this tenancy.
	if bot.CredentialVerified && bot.ServerName == s.tenancy {
		if err := s.supervisor.StartBot(ctx, bot.ID); err != nil {
			logrus.Warnf("[INSTANCE] Post-approval start failed for bot %s: %v", bot.ID, err)
		}
	}
	return bot, nil
}

// Revoke takes an approved bot offline and back out of service without
// destroying its credentials.
func (s *instanceService) Revoke(ctx context.Context, id string) (*domainInstance.BotInstance, error) {
	bot, err := s.bots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if bot.ApprovalStatus != domainInstance.ApprovalApproved {
		return nil, pkgError.ValidationError("only approved bots can be revoked")
	}

	if err := s.supervisor.StopBot(ctx, id, true); err != nil {
		logrus.Warnf("[INSTANCE] Stop during revoke failed for bot %s: %v", id, err)
	}
	// Revocation returns the bot to the approval queue.
	if err := s.bots.UpdateFields(ctx, id, map[string]any{
		"approval_status": string(domainInstance.ApprovalPending),
		"approval_date":   nil,
		"status":          string(domainInstance.StatusOffline),
	}); err != nil {
		return nil, err
	}
	bot.ApprovalStatus = domainInstance.ApprovalPending
	bot.ApprovalDate = nil
	bot.Status = domainInstance.StatusOffline

	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:          domainActivity.TypeRevocation,
		Description:   fmt.Sprintf("approval revoked for bot %s", bot.Name),
		BotInstanceID: bot.ID,
	})
	return bot, nil
}

func (s *instanceService) Reject(ctx context.Context, id string) (*domainInstance.BotInstance, error) {
	bot, err := s.bots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if bot.ApprovalStatus == domainInstance.ApprovalApproved {
		return nil, pkgError.ValidationError("approved bots must be revoked, not rejected")
	}

	if err := s.supervisor.StopBot(ctx, id, true); err != nil {
		logrus.Warnf("[INSTANCE] Stop during reject failed for bot %s: %v", id, err)
	}
	if err := s.bots.UpdateFields(ctx, id, map[string]any{
		"approval_status": string(domainInstance.ApprovalRejected),
		"status":          string(domainInstance.StatusOffline),
	}); err != nil {
		return nil, err
	}
	bot.ApprovalStatus = domainInstance.ApprovalRejected
	bot.Status = domainInstance.StatusOffline

	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:          domainActivity.TypeRejection,
		Description:   fmt.Sprintf("bot %s rejected", bot.Name),
		BotInstanceID: bot.ID,
	})
	return bot, nil
}

// Delete removes the bot everywhere: live worker, on-disk session, bot row,
// god-registry entry, related activities and commands.
func (s *instanceService) Delete(ctx context.Context, id string) error {
	bot, err := s.bots.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.supervisor.DestroyBot(ctx, id); err != nil {
		logrus.Warnf("[INSTANCE] Worker teardown during delete failed for bot %s: %v", id, err)
	}
	if err := s.vault.Purge(id); err != nil {
		logrus.Warnf("[INSTANCE] Vault purge during delete failed for bot %s: %v", id, err)
	}
	if err := s.registrar.CascadeDeleteBot(ctx, bot.ServerName, id); err != nil {
		return err
	}

	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:        domainActivity.TypeDeletion,
		Description: fmt.Sprintf("bot %s (%s) deleted", bot.Name, bot.PhoneNumber),
	})
	return nil
}

func (s *instanceService) Start(ctx context.Context, id string) error {
	bot, err := s.bots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bot.Expired(time.Now()) {
		return pkgError.PermissionError("bot subscription has expired")
	}
	return s.supervisor.StartBot(ctx, id)
}

func (s *instanceService) Stop(ctx context.Context, id string) error {
	return s.supervisor.StopBot(ctx, id, true)
}

func (s *instanceService) Restart(ctx context.Context, id string) error {
	bot, err := s.bots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bot.Expired(time.Now()) {
		return pkgError.PermissionError("bot subscription has expired")
	}
	return s.supervisor.RestartBot(ctx, id)
}

// Batch applies one action to many bots, accumulating per-item failures
// instead of aborting on the first. Items carrying a foreign server name are
// routed to the owning tenancy: lifecycle over RPC, row edits through the
// explicit cross-tenancy repository methods.
func (s *instanceService) Batch(ctx context.Context, req domainInstance.BatchRequest) []domainInstance.BatchResult {
	results := make([]domainInstance.BatchResult, 0, len(req.Items))
	for _, item := range req.Items {
		var err error
		if item.ServerName != "" && item.ServerName != s.tenancy {
			err = s.batchForeign(ctx, req, item)
		} else {
			err = s.batchLocal(ctx, req, item)
		}

		result := domainInstance.BatchResult{BotID: item.BotID, OK: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

func (s *instanceService) batchLocal(ctx context.Context, req domainInstance.BatchRequest, item domainInstance.BatchItem) error {
	switch req.Action {
	case "start":
		return s.Start(ctx, item.BotID)
	case "stop":
		return s.Stop(ctx, item.BotID)
	case "approve":
		_, err := s.Approve(ctx, item.BotID, domainInstance.ApproveBotRequest{
			ExpirationMonths: req.ExpirationMonths,
			TargetServer:     req.TargetServer,
		})
		return err
	case "revoke":
		_, err := s.Revoke(ctx, item.BotID)
		return err
	case "delete":
		return s.Delete(ctx, item.BotID)
	case "migrate":
		return s.engine.Migrate(ctx, item.BotID, s.tenancy, req.TargetServer)
	default:
		return pkgError.ValidationError("unknown batch action: " + req.Action)
	}
}

func (s *instanceService) batchForeign(ctx context.Context, req domainInstance.BatchRequest, item domainInstance.BatchItem) error {
	switch req.Action {
	case "start", "stop":
		// Only the owning process holds the live worker.
		return s.rpc.Lifecycle(ctx, item.ServerName, item.BotID, req.Action)
	case "approve":
		if req.ExpirationMonths <= 0 {
			return pkgError.ValidationError("expiration_months must be positive")
		}
		return s.bots.UpdateBotOnServer(ctx, item.ServerName, item.BotID, map[string]any{
			"approval_status":   string(domainInstance.ApprovalApproved),
			"approval_date":     time.Now(),
			"expiration_months": req.ExpirationMonths,
		})
	case "revoke":
		if err := s.rpc.Lifecycle(ctx, item.ServerName, item.BotID, "stop"); err != nil {
			logrus.Warnf("[INSTANCE] Remote stop during revoke failed for bot %s: %v", item.BotID, err)
		}
		return s.bots.UpdateBotOnServer(ctx, item.ServerName, item.BotID, map[string]any{
			"approval_status": string(domainInstance.ApprovalPending),
			"approval_date":   nil,
			"status":          string(domainInstance.StatusOffline),
		})
	case "delete":
		if err := s.rpc.Lifecycle(ctx, item.ServerName, item.BotID, "stop"); err != nil {
			logrus.Warnf("[INSTANCE] Remote stop during delete failed for bot %s: %v", item.BotID, err)
		}
		return s.registrar.CascadeDeleteBot(ctx, item.ServerName, item.BotID)
	case "migrate":
		return s.engine.Migrate(ctx, item.BotID, item.ServerName, req.TargetServer)
	default:
		return pkgError.ValidationError("unknown batch action: " + req.Action)
	}
}
