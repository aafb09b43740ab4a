package rest

import (
	"context"

	"github.com/gofiber/fiber/v2"

	domainGuest "github.com/wafleet/wafleet/domains/guest"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
	"github.com/wafleet/wafleet/tenancy"
	"github.com/wafleet/wafleet/ui/rest/middleware"
	"github.com/wafleet/wafleet/validations"
)

// Guest wires the guest auth endpoints (public) and the token-guarded
// self-service surface. Every guarded operation is scoped to the bot ID
// baked into the guest token; the bot may be homed on another tenancy.
type Guest struct {
	Service   domainGuest.IGuestUsecase
	Instances domainInstance.IInstanceUsecase
	Servers   domainServer.IServerRepository
	DirectDB  *tenancy.DirectDB
	RPC       *tenancy.Client
	Tenancy   string
}

func InitRestGuest(public, guarded fiber.Router, service domainGuest.IGuestUsecase, instances domainInstance.IInstanceUsecase, servers domainServer.IServerRepository, directDB *tenancy.DirectDB, rpc *tenancy.Client, tenancyName string) Guest {
	rest := Guest{
		Service:   service,
		Instances: instances,
		Servers:   servers,
		DirectDB:  directDB,
		RPC:       rpc,
		Tenancy:   tenancyName,
	}
	public.Post("/guest/auth/otp/send", rest.SendOTP)
	public.Post("/guest/auth/otp/verify", rest.VerifyOTP)
	public.Post("/guest/auth/session", rest.VerifySessionProof)

	// guarded is mounted at /guest/bot with the guest token middleware.
	guarded.Get("/", rest.GetBot)
	guarded.Post("/start", rest.StartBot)
	guarded.Post("/stop", rest.StopBot)
	guarded.Post("/restart", rest.RestartBot)
	guarded.Delete("/", rest.DeleteBot)
	guarded.Put("/features", rest.SetFeatures)
	guarded.Put("/credentials", rest.RotateCredentials)
	return rest
}

func (handler *Guest) SendOTP(c *fiber.Ctx) error {
	var request domainGuest.SendOTPRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)
	utils.PanicIfNeeded(validations.ValidateSendOTP(c.UserContext(), request))

	err = handler.Service.SendOTP(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Verification code sent",
	})
}

func (handler *Guest) VerifyOTP(c *fiber.Ctx) error {
	var request domainGuest.VerifyOTPRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)
	utils.PanicIfNeeded(validations.ValidateVerifyOTP(c.UserContext(), request))

	response, err := handler.Service.VerifyOTP(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Authenticated",
		Results: response,
	})
}

func (handler *Guest) VerifySessionProof(c *fiber.Ctx) error {
	var request domainGuest.SessionProofRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)
	utils.PanicIfNeeded(validations.ValidateSessionProof(c.UserContext(), request))

	response, err := handler.Service.VerifySessionProof(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session verified",
		Results: response,
	})
}

func (handler *Guest) identity(c *fiber.Ctx) (phone, botID string) {
	phone, _ = c.Locals(middleware.LocalsGuestPhone).(string)
	botID, _ = c.Locals(middleware.LocalsGuestBotID).(string)
	if phone == "" || botID == "" {
		utils.PanicIfNeeded(pkgError.AuthError("guest identity missing from token"))
	}
	return phone, botID
}

// canonical resolves the tenancy the guest's bot is homed on. A missing
// god-registry row means the bot is local.
func (handler *Guest) canonical(ctx context.Context, phone string) string {
	reg, err := handler.Servers.GetRegistration(ctx, phone)
	if err != nil || reg == nil {
		return handler.Tenancy
	}
	return reg.ServerName
}

func (handler *Guest) GetBot(c *fiber.Ctx) error {
	phone, botID := handler.identity(c)

	canonical := handler.canonical(c.UserContext(), phone)
	var bot *domainInstance.BotInstance
	var err error
	if canonical == handler.Tenancy {
		bot, err = handler.Instances.GetByID(c.UserContext(), botID)
	} else {
		bot, err = handler.DirectDB.ReadStatus(c.UserContext(), canonical, botID)
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot retrieved",
		Results: bot.MaskForGuest(),
	})
}

func (handler *Guest) lifecycle(c *fiber.Ctx, action string) error {
	phone, botID := handler.identity(c)

	canonical := handler.canonical(c.UserContext(), phone)
	var err error
	if canonical == handler.Tenancy {
		switch action {
		case "start":
			err = handler.Instances.Start(c.UserContext(), botID)
		case "stop":
			err = handler.Instances.Stop(c.UserContext(), botID)
		case "restart":
			err = handler.Instances.Restart(c.UserContext(), botID)
		}
	} else {
		// Lifecycle needs the owning process; row writes are not enough.
		err = handler.RPC.Lifecycle(c.UserContext(), canonical, botID, action)
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot " + action + " queued",
	})
}

func (handler *Guest) StartBot(c *fiber.Ctx) error   { return handler.lifecycle(c, "start") }
func (handler *Guest) StopBot(c *fiber.Ctx) error    { return handler.lifecycle(c, "stop") }
func (handler *Guest) RestartBot(c *fiber.Ctx) error { return handler.lifecycle(c, "restart") }

func (handler *Guest) DeleteBot(c *fiber.Ctx) error {
	phone, botID := handler.identity(c)

	if canonical := handler.canonical(c.UserContext(), phone); canonical != handler.Tenancy {
		utils.PanicIfNeeded(pkgError.ValidationError("this bot is managed by another server, delete it there"))
	}
	err := handler.Instances.Delete(c.UserContext(), botID)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot deleted",
	})
}

func (handler *Guest) SetFeatures(c *fiber.Ctx) error {
	phone, botID := handler.identity(c)

	var flags map[string]any
	err := c.BodyParser(&flags)
	utils.PanicIfNeeded(err)

	canonical := handler.canonical(c.UserContext(), phone)
	err = handler.DirectDB.SetFeatureFlags(c.UserContext(), canonical, botID, flags)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Features updated",
	})
}

type rotateCredentialsRequest struct {
	Credentials string `json:"credentials"`
}

func (handler *Guest) RotateCredentials(c *fiber.Ctx) error {
	phone, botID := handler.identity(c)

	var request rotateCredentialsRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)
	if request.Credentials == "" {
		utils.PanicIfNeeded(pkgError.ValidationError("credentials are required"))
	}

	err = handler.Service.RotateCredentials(c.UserContext(), phone, botID, request.Credentials)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Credentials rotated",
	})
}
