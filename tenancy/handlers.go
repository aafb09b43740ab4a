package tenancy

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/vault"
)

const localsClaims = "rpc_claims"
const localsSource = "rpc_source"

// Handler serves the signed RPC surface other tenancies call. Every
// operation carries its payload inside the verified token, never trusting
// the request body.
type Handler struct {
	tenancy    string
	servers    domainServer.IServerRepository
	bots       domainInstance.IInstanceRepository
	registrar  domainServer.IRegistrar
	activity   domainActivity.IActivityRepository
	supervisor domainInstance.ISupervisor
	vault      *vault.Vault
}

func NewHandler(tenancy string, servers domainServer.IServerRepository, bots domainInstance.IInstanceRepository, registrar domainServer.IRegistrar, activity domainActivity.IActivityRepository, supervisor domainInstance.ISupervisor, v *vault.Vault) *Handler {
	return &Handler{
		tenancy:    tenancy,
		servers:    servers,
		bots:       bots,
		registrar:  registrar,
		activity:   activity,
		supervisor: supervisor,
		vault:      v,
	}
}

func (h *Handler) Register(app fiber.Router) {
	grp := app.Group("/internal/tenants/bots", h.authenticate)
	grp.Post("/health", h.health)
	grp.Post("/create", h.create)
	grp.Post("/update", h.update)
	grp.Post("/credentials", h.credentials)
	grp.Post("/lifecycle", h.lifecycle)
	grp.Post("/notify", h.notify)
	grp.Post("/status", h.status)
}

func rpcOK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: mustRaw(data)})
}

func rpcFail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(Response{Success: false, Error: message})
}

func mustRaw(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return raw
}

// authenticate verifies the three-part identity: header names, catalog
// membership and token signature under the source's shared secret.
func (h *Handler) authenticate(c *fiber.Ctx) error {
	source := c.Get("X-Source-Server")
	target := c.Get("X-Target-Server")
	if source == "" || target == "" {
		return rpcFail(c, fiber.StatusUnauthorized, "missing tenancy headers")
	}
	if target != h.tenancy {
		return rpcFail(c, fiber.StatusForbidden, fmt.Sprintf("request addressed to %s, this is %s", target, h.tenancy))
	}

	auth := c.Get(fiber.HeaderAuthorization)
	if len(auth) < 8 || auth[:7] != "Bearer " {
		return rpcFail(c, fiber.StatusUnauthorized, "missing bearer token")
	}

	sourceServer, err := h.servers.GetServer(c.UserContext(), source)
	if err != nil {
		return rpcFail(c, fiber.StatusForbidden, fmt.Sprintf("server %s is not in the catalog", source))
	}
	if sourceServer.SharedSecret == "" {
		return rpcFail(c, fiber.StatusForbidden, fmt.Sprintf("server %s has no shared secret on record", source))
	}

	claims, err := VerifyToken(auth[7:], source, target, sourceServer.SharedSecret)
	if err != nil {
		logrus.Warnf("[TENANCY] Rejected RPC from %s: %v", source, err)
		return rpcFail(c, fiber.StatusUnauthorized, err.Error())
	}

	c.Locals(localsClaims, claims)
	c.Locals(localsSource, source)
	return c.Next()
}

func (h *Handler) claims(c *fiber.Ctx) *RPCClaims {
	claims, _ := c.Locals(localsClaims).(*RPCClaims)
	return claims
}

func (h *Handler) logRPC(c *fiber.Ctx, op, botID, description string) {
	source, _ := c.Locals(localsSource).(string)
	act := &domainActivity.Activity{
		Type:          domainActivity.TypeCrossTenancy,
		Description:   description,
		BotInstanceID: botID,
		ServerName:    h.tenancy,
		RemoteServer:  source,
		Metadata:      fmt.Sprintf(`{"op":%q}`, op),
	}
	if err := h.activity.Log(c.UserContext(), act); err != nil {
		logrus.Warnf("[TENANCY] Failed to log RPC activity: %v", err)
	}
}

func (h *Handler) health(c *fiber.Ctx) error {
	h.logRPC(c, "health", "", "peer health probe")
	return rpcOK(c, fiber.Map{"server": h.tenancy, "status": "ok"})
}

func (h *Handler) create(c *fiber.Ctx) error {
	claims := h.claims(c)
	botData, ok := claims.Data["bot"].(map[string]any)
	if !ok {
		return rpcFail(c, fiber.StatusBadRequest, "missing bot payload")
	}

	raw, _ := json.Marshal(botData)
	var bot domainInstance.BotInstance
	if err := json.Unmarshal(raw, &bot); err != nil {
		return rpcFail(c, fiber.StatusBadRequest, "malformed bot payload")
	}
	if bot.ID == "" || bot.PhoneNumber == "" {
		return rpcFail(c, fiber.StatusBadRequest, "bot id and phone are required")
	}

	if err := h.registrar.CreateCrossServerRegistration(c.UserContext(), bot.PhoneNumber, h.tenancy, &bot); err != nil {
		return h.businessError(c, err)
	}
	if err := h.supervisor.CreateBot(c.UserContext(), &bot); err != nil {
		logrus.Warnf("[TENANCY] Supervisor registration for bot %s failed: %v", bot.ID, err)
	}

	h.logRPC(c, "create", bot.ID, fmt.Sprintf("bot %s created via RPC", bot.Name))
	return rpcOK(c, bot.MaskForGuest())
}

func (h *Handler) update(c *fiber.Ctx) error {
	claims := h.claims(c)
	botID, _ := claims.Data["bot_id"].(string)
	fields, ok := claims.Data["fields"].(map[string]any)
	if botID == "" || !ok || len(fields) == 0 {
		return rpcFail(c, fiber.StatusBadRequest, "bot_id and fields are required")
	}

	if err := h.bots.UpdateFields(c.UserContext(), botID, fields); err != nil {
		return h.businessError(c, err)
	}

	h.logRPC(c, "update", botID, "bot updated via RPC")
	return rpcOK(c, nil)
}

func (h *Handler) credentials(c *fiber.Ctx) error {
	claims := h.claims(c)
	botID, _ := claims.Data["bot_id"].(string)
	phone, _ := claims.Data["phone"].(string)
	blob, _ := claims.Data["credentials"].(string)
	if botID == "" || blob == "" {
		return rpcFail(c, fiber.StatusBadRequest, "bot_id and credentials are required")
	}

	parsed, err := h.vault.Validate(c.UserContext(), blob, phone, botID)
	if err != nil {
		return h.businessError(c, err)
	}
	if err := h.vault.Store(botID, parsed.Normalized); err != nil {
		return h.businessError(c, err)
	}
	if err := h.bots.UpdateFields(c.UserContext(), botID, map[string]any{
		"credentials":         parsed.Normalized,
		"credential_verified": true,
		"invalid_reason":      "",
	}); err != nil {
		return h.businessError(c, err)
	}

	h.logRPC(c, "credentials", botID, "credentials rotated via RPC")
	return rpcOK(c, fiber.Map{"phone": parsed.Phone})
}

func (h *Handler) lifecycle(c *fiber.Ctx) error {
	claims := h.claims(c)
	botID, _ := claims.Data["bot_id"].(string)
	action, _ := claims.Data["action"].(string)
	if botID == "" {
		return rpcFail(c, fiber.StatusBadRequest, "bot_id is required")
	}

	var err error
	switch action {
	case "start":
		err = h.supervisor.StartBot(c.UserContext(), botID)
	case "stop":
		err = h.supervisor.StopBot(c.UserContext(), botID, true)
	case "restart":
		err = h.supervisor.RestartBot(c.UserContext(), botID)
	default:
		return rpcFail(c, fiber.StatusBadRequest, "unknown lifecycle action: "+action)
	}
	if err != nil {
		return h.businessError(c, err)
	}

	h.logRPC(c, "lifecycle", botID, fmt.Sprintf("lifecycle %s via RPC", action))
	return rpcOK(c, fiber.Map{"status": h.supervisor.GetStatus(botID)})
}

func (h *Handler) notify(c *fiber.Ctx) error {
	claims := h.claims(c)
	botID, _ := claims.Data["bot_id"].(string)
	text, _ := claims.Data["text"].(string)
	if botID == "" || text == "" {
		return rpcFail(c, fiber.StatusBadRequest, "bot_id and text are required")
	}

	bot, err := h.bots.GetByID(c.UserContext(), botID)
	if err != nil {
		return h.businessError(c, err)
	}
	if err := h.supervisor.SendMessageThroughBot(c.UserContext(), botID, bot.PhoneNumber, text); err != nil {
		return h.businessError(c, err)
	}

	h.logRPC(c, "notify", botID, "notification delivered via RPC")
	return rpcOK(c, nil)
}

func (h *Handler) status(c *fiber.Ctx) error {
	claims := h.claims(c)
	botID, _ := claims.Data["bot_id"].(string)
	if botID == "" {
		return rpcFail(c, fiber.StatusBadRequest, "bot_id is required")
	}

	bot, err := h.bots.GetByID(c.UserContext(), botID)
	if err != nil {
		return h.businessError(c, err)
	}

	h.logRPC(c, "status", botID, "status read via RPC")
	return rpcOK(c, fiber.Map{
		"bot_id":          bot.ID,
		"status":          h.supervisor.GetStatus(botID),
		"approval_status": bot.ApprovalStatus,
		"last_activity":   bot.LastActivity,
	})
}

// businessError maps the local error taxonomy onto the RPC envelope so the
// caller can tell business failure from transport failure.
func (h *Handler) businessError(c *fiber.Ctx, err error) error {
	if generic, ok := err.(pkgError.GenericError); ok {
		return rpcFail(c, generic.StatusCode(), generic.Error())
	}
	return rpcFail(c, fiber.StatusInternalServerError, err.Error())
}
