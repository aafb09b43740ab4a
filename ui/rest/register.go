package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"

	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	"github.com/wafleet/wafleet/pkg/utils"
	"github.com/wafleet/wafleet/usecase"
	"github.com/wafleet/wafleet/validations"
	"github.com/wafleet/wafleet/vault"
)

// Register is the public, unauthenticated surface: registration, credential
// pre-validation, server discovery and offer status.
type Register struct {
	Service usecase.IRegistrationUsecase
	Vault   *vault.Vault
	Servers domainServer.IServerRepository
	Tenancy string
}

func InitRestRegister(app fiber.Router, service usecase.IRegistrationUsecase, v *vault.Vault, servers domainServer.IServerRepository, tenancy string) Register {
	rest := Register{Service: service, Vault: v, Servers: servers, Tenancy: tenancy}
	app.Post("/register", rest.RegisterBot)
	app.Post("/credentials/validate", rest.ValidateCredentials)
	app.Get("/servers", rest.ListServers)
	app.Get("/offer/status", rest.OfferStatus)
	return rest
}

func (handler *Register) RegisterBot(c *fiber.Ctx) error {
	var request domainInstance.CreateBotRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)
	utils.PanicIfNeeded(validations.ValidateRegisterBot(c.UserContext(), request))

	result, err := handler.Service.Register(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Bot registered",
		Results: result,
	})
}

type validateCredentialsRequest struct {
	Credentials string `json:"credentials"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

func (handler *Register) ValidateCredentials(c *fiber.Ctx) error {
	var request validateCredentialsRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	parsed, err := handler.Vault.Validate(c.UserContext(), request.Credentials, request.PhoneNumber, "")
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Credentials are valid",
		Results: map[string]any{
			"phone_number": parsed.Phone,
			"size_bytes":   parsed.SizeBytes,
		},
	})
}

// publicServer is the discovery projection: no URLs, no secrets, no raw
// counts beyond free capacity.
type publicServer struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	FreeSlots   int    `json:"free_slots"`
	Description string `json:"description,omitempty"`
}

func (handler *Register) ListServers(c *fiber.Ctx) error {
	servers, err := handler.Servers.ListServers(c.UserContext())
	utils.PanicIfNeeded(err)

	results := make([]publicServer, 0, len(servers))
	for _, srv := range servers {
		free := srv.MaxBotCount - srv.CurrentBotCount
		if free < 0 {
			free = 0
		}
		results = append(results, publicServer{
			Name:        srv.Name,
			Status:      srv.Status,
			FreeSlots:   free,
			Description: srv.Description,
		})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Servers retrieved",
		Results: results,
	})
}

func (handler *Register) OfferStatus(c *fiber.Ctx) error {
	offer, err := handler.Servers.GetOffer(c.UserContext(), handler.Tenancy)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Offer status retrieved",
		Results: map[string]any{
			"active": offer.ActiveAt(time.Now()),
		},
	})
}
