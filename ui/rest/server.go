package rest

import (
	"github.com/gofiber/fiber/v2"

	domainServer "github.com/wafleet/wafleet/domains/server"
	"github.com/wafleet/wafleet/pkg/utils"
)

type Server struct {
	Service domainServer.IServerUsecase
}

func InitRestServer(app fiber.Router, service domainServer.IServerUsecase) Server {
	rest := Server{Service: service}
	app.Get("/servers", rest.ListServers)
	app.Get("/servers/:name", rest.GetServer)
	app.Put("/servers/:name", rest.UpdateServer)
	app.Delete("/servers/:name", rest.DeleteServer)
	app.Get("/registry", rest.ListRegistrations)
	app.Put("/registry/:phone", rest.ReassignRegistration)
	app.Delete("/registry/:phone", rest.DeleteRegistration)
	app.Get("/offer", rest.GetOffer)
	app.Put("/offer", rest.SetOffer)
	return rest
}

func (handler *Server) ListServers(c *fiber.Ctx) error {
	servers, err := handler.Service.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Servers retrieved",
		Results: servers,
	})
}

func (handler *Server) GetServer(c *fiber.Ctx) error {
	srv, err := handler.Service.Get(c.UserContext(), c.Params("name"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Server retrieved",
		Results: srv,
	})
}

func (handler *Server) UpdateServer(c *fiber.Ctx) error {
	var request domainServer.UpdateServerRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	srv, err := handler.Service.Update(c.UserContext(), c.Params("name"), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Server updated",
		Results: srv,
	})
}

func (handler *Server) DeleteServer(c *fiber.Ctx) error {
	err := handler.Service.Delete(c.UserContext(), c.Params("name"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Server deleted",
	})
}

func (handler *Server) ListRegistrations(c *fiber.Ctx) error {
	registrations, err := handler.Service.ListRegistrations(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Registrations retrieved",
		Results: registrations,
	})
}

type reassignRequest struct {
	ServerName string `json:"server_name"`
}

func (handler *Server) ReassignRegistration(c *fiber.Ctx) error {
	var request reassignRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = handler.Service.ReassignRegistration(c.UserContext(), c.Params("phone"), request.ServerName)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Registration reassigned",
	})
}

func (handler *Server) DeleteRegistration(c *fiber.Ctx) error {
	err := handler.Service.DeleteRegistration(c.UserContext(), c.Params("phone"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Registration deleted",
	})
}

func (handler *Server) GetOffer(c *fiber.Ctx) error {
	offer, err := handler.Service.GetOffer(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Offer retrieved",
		Results: offer,
	})
}

func (handler *Server) SetOffer(c *fiber.Ctx) error {
	var request domainServer.OfferConfig
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	offer, err := handler.Service.SetOffer(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Offer updated",
		Results: offer,
	})
}
