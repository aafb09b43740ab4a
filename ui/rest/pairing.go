package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wafleet/wafleet/infrastructure/whatsapp"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
	"github.com/wafleet/wafleet/validations"
)

type Pairing struct {
	Manager *whatsapp.PairingManager
}

func InitRestPairing(app fiber.Router, manager *whatsapp.PairingManager) Pairing {
	rest := Pairing{Manager: manager}
	app.Post("/pairing/code", rest.RequestCode)
	app.Get("/pairing/collect", rest.Collect)
	return rest
}

type pairingRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (handler *Pairing) RequestCode(c *fiber.Ctx) error {
	var request pairingRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	phone := utils.SanitizePhone(request.PhoneNumber)
	utils.PanicIfNeeded(validations.ValidatePairingPhone(c.UserContext(), phone))

	code, err := handler.Manager.RequestCode(c.UserContext(), phone)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pairing code issued",
		Results: map[string]any{
			"pair_code": code,
		},
	})
}

func (handler *Pairing) Collect(c *fiber.Ctx) error {
	phone := utils.SanitizePhone(c.Query("phone"))
	if phone == "" {
		utils.PanicIfNeeded(pkgError.ValidationError("phone query parameter is required"))
	}

	credentials, ready, err := handler.Manager.Collect(phone)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pairing status retrieved",
		Results: map[string]any{
			"ready":       ready,
			"credentials": credentials,
		},
	})
}
