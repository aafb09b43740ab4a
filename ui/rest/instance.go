package rest

import (
	"github.com/gofiber/fiber/v2"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	"github.com/wafleet/wafleet/pkg/utils"
	"github.com/wafleet/wafleet/validations"
)

const defaultActivityLimit = 100

type Instance struct {
	Service  domainInstance.IInstanceUsecase
	Activity domainActivity.IActivityRepository
}

func InitRestInstance(app fiber.Router, service domainInstance.IInstanceUsecase, activity domainActivity.IActivityRepository) Instance {
	rest := Instance{Service: service, Activity: activity}
	app.Get("/bots", rest.ListBots)
	app.Get("/bots/fleet", rest.ListFleet)
	app.Get("/bots/:id", rest.GetBot)
	app.Put("/bots/:id", rest.UpdateBot)
	app.Delete("/bots/:id", rest.DeleteBot)
	app.Post("/bots/:id/approve", rest.ApproveBot)
	app.Post("/bots/:id/revoke", rest.RevokeBot)
	app.Post("/bots/:id/reject", rest.RejectBot)
	app.Post("/bots/:id/start", rest.StartBot)
	app.Post("/bots/:id/stop", rest.StopBot)
	app.Post("/bots/:id/restart", rest.RestartBot)
	app.Post("/bots/batch", rest.Batch)
	app.Get("/activities", rest.ListActivities)
	return rest
}

func (handler *Instance) ListBots(c *fiber.Ctx) error {
	bots, err := handler.Service.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bots retrieved",
		Results: bots,
	})
}

// ListFleet is the master cross-tenancy view.
func (handler *Instance) ListFleet(c *fiber.Ctx) error {
	bots, err := handler.Service.Fleet(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Fleet retrieved",
		Results: bots,
	})
}

func (handler *Instance) GetBot(c *fiber.Ctx) error {
	bot, err := handler.Service.GetByID(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot retrieved",
		Results: bot,
	})
}

func (handler *Instance) UpdateBot(c *fiber.Ctx) error {
	var request domainInstance.UpdateBotRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	bot, err := handler.Service.Update(c.UserContext(), c.Params("id"), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot updated",
		Results: bot,
	})
}

func (handler *Instance) DeleteBot(c *fiber.Ctx) error {
	err := handler.Service.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot deleted",
	})
}

func (handler *Instance) ApproveBot(c *fiber.Ctx) error {
	var request domainInstance.ApproveBotRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)
	utils.PanicIfNeeded(validations.ValidateApproveBot(c.UserContext(), request))

	bot, err := handler.Service.Approve(c.UserContext(), c.Params("id"), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot approved",
		Results: bot,
	})
}

func (handler *Instance) RevokeBot(c *fiber.Ctx) error {
	bot, err := handler.Service.Revoke(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot approval revoked",
		Results: bot,
	})
}

func (handler *Instance) RejectBot(c *fiber.Ctx) error {
	bot, err := handler.Service.Reject(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot rejected",
		Results: bot,
	})
}

func (handler *Instance) StartBot(c *fiber.Ctx) error {
	err := handler.Service.Start(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot start queued",
	})
}

func (handler *Instance) StopBot(c *fiber.Ctx) error {
	err := handler.Service.Stop(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot stop queued",
	})
}

func (handler *Instance) RestartBot(c *fiber.Ctx) error {
	err := handler.Service.Restart(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Bot restart queued",
	})
}

func (handler *Instance) Batch(c *fiber.Ctx) error {
	var request domainInstance.BatchRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)
	utils.PanicIfNeeded(validations.ValidateBatch(c.UserContext(), request))

	results := handler.Service.Batch(c.UserContext(), request)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Batch processed",
		Results: results,
	})
}

func (handler *Instance) ListActivities(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultActivityLimit)

	var activities []domainActivity.Activity
	var err error
	if botID := c.Query("bot_id"); botID != "" {
		activities, err = handler.Activity.ListForBot(c.UserContext(), botID, limit)
	} else {
		activities, err = handler.Activity.List(c.UserContext(), limit)
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Activities retrieved",
		Results: activities,
	})
}
