package rest

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	domainCommand "github.com/wafleet/wafleet/domains/command"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
)

type Command struct {
	Service domainCommand.ICommandUsecase
}

func InitRestCommand(app fiber.Router, service domainCommand.ICommandUsecase) Command {
	rest := Command{Service: service}
	app.Get("/commands", rest.ListCommands)
	app.Post("/commands", rest.CreateCommand)
	app.Put("/commands/:id", rest.UpdateCommand)
	app.Delete("/commands/:id", rest.DeleteCommand)
	return rest
}

func commandID(c *fiber.Ctx) uint {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError("invalid command id"))
	}
	return uint(id)
}

func (handler *Command) ListCommands(c *fiber.Ctx) error {
	commands, err := handler.Service.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Commands retrieved",
		Results: commands,
	})
}

func (handler *Command) CreateCommand(c *fiber.Ctx) error {
	var request domainCommand.CreateCommandRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	command, err := handler.Service.Create(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Command created",
		Results: command,
	})
}

func (handler *Command) UpdateCommand(c *fiber.Ctx) error {
	var request domainCommand.CreateCommandRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	command, err := handler.Service.Update(c.UserContext(), commandID(c), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Command updated",
		Results: command,
	})
}

func (handler *Command) DeleteCommand(c *fiber.Ctx) error {
	err := handler.Service.Delete(c.UserContext(), commandID(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Command deleted",
	})
}
