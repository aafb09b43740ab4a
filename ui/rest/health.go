package rest

import (
	"github.com/gofiber/fiber/v2"

	domainHealth "github.com/wafleet/wafleet/domains/health"
	"github.com/wafleet/wafleet/pkg/utils"
)

type Health struct {
	Service domainHealth.IHealthUsecase
}

func InitRestHealth(app fiber.Router, service domainHealth.IHealthUsecase) Health {
	rest := Health{Service: service}
	app.Get("/health", rest.Check)
	return rest
}

func (handler *Health) Check(c *fiber.Ctx) error {
	status, err := handler.Service.Check(c.UserContext())
	utils.PanicIfNeeded(err)

	httpStatus := 200
	if !status.Healthy {
		httpStatus = fiber.StatusServiceUnavailable
	}
	return c.Status(httpStatus).JSON(utils.ResponseData{
		Status:  httpStatus,
		Code:    "SUCCESS",
		Message: "Health status retrieved",
		Results: status,
	})
}
