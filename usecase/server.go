package usecase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
)

type serverService struct {
	servers domainServer.IServerRepository
	tenancy string
}

func NewServerUsecase(servers domainServer.IServerRepository, tenancy string) domainServer.IServerUsecase {
	return &serverService{servers: servers, tenancy: tenancy}
}

func (s *serverService) List(ctx context.Context) ([]domainServer.Server, error) {
	return s.servers.ListServers(ctx)
}

func (s *serverService) Get(ctx context.Context, name string) (*domainServer.Server, error) {
	return s.servers.GetServer(ctx, name)
}

// Update edits a catalog row. Changing the local row never changes the
// runtime tenancy name; that is fixed at process start.
func (s *serverService) Update(ctx context.Context, name string, req domainServer.UpdateServerRequest) (*domainServer.Server, error) {
	srv, err := s.servers.GetServer(ctx, name)
	if err != nil {
		return nil, err
	}

	if req.MaxBotCount != nil {
		if *req.MaxBotCount < srv.CurrentBotCount {
			return nil, pkgError.ValidationError("max_bot_count cannot go below the current bot count")
		}
		srv.MaxBotCount = *req.MaxBotCount
	}
	if req.Status != nil {
		srv.Status = *req.Status
	}
	if req.Description != nil {
		srv.Description = *req.Description
	}
	if req.URL != nil {
		srv.URL = *req.URL
	}
	if req.SharedSecret != nil {
		srv.SharedSecret = *req.SharedSecret
	}

	if err := s.servers.UpsertServer(ctx, srv); err != nil {
		return nil, err
	}
	return srv, nil
}

func (s *serverService) Delete(ctx context.Context, name string) error {
	if name == s.tenancy {
		return pkgError.ValidationError("cannot delete the local server from its own catalog")
	}
	return s.servers.DeleteServer(ctx, name)
}

func (s *serverService) ListRegistrations(ctx context.Context) ([]domainServer.GlobalRegistration, error) {
	return s.servers.ListRegistrations(ctx)
}

// ReassignRegistration is the admin escape hatch for a god-registry row
// pointing at the wrong tenancy. It does not move the bot row itself.
func (s *serverService) ReassignRegistration(ctx context.Context, phone, serverName string) error {
	phone = utils.SanitizePhone(phone)
	if _, err := s.servers.GetServer(ctx, serverName); err != nil {
		return err
	}
	reg, err := s.servers.GetRegistration(ctx, phone)
	if err != nil {
		return err
	}
	if reg == nil {
		return pkgError.NotFoundError("no registration for this phone")
	}
	logrus.Warnf("[SERVER] Admin reassigning %s: %s -> %s", phone, reg.ServerName, serverName)
	return s.servers.UpdateRegistration(ctx, phone, serverName)
}

func (s *serverService) DeleteRegistration(ctx context.Context, phone string) error {
	return s.servers.DeleteRegistration(ctx, utils.SanitizePhone(phone))
}

func (s *serverService) GetOffer(ctx context.Context) (*domainServer.OfferConfig, error) {
	return s.servers.GetOffer(ctx, s.tenancy)
}

func (s *serverService) SetOffer(ctx context.Context, offer domainServer.OfferConfig) (*domainServer.OfferConfig, error) {
	switch offer.DurationType {
	case "days", "weeks", "months":
	default:
		return nil, pkgError.ValidationError("duration_type must be days, weeks or months")
	}
	if offer.DurationValue <= 0 {
		return nil, pkgError.ValidationError("duration_value must be positive")
	}

	offer.ServerName = s.tenancy
	if offer.StartDate.IsZero() {
		offer.StartDate = time.Now()
	}
	if err := s.servers.UpsertOffer(ctx, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}
