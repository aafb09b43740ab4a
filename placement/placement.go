package placement

import (
	"context"

	"github.com/sirupsen/logrus"

	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
)

// Outcome reports where a registration landed. CrossServer is true when the
// bot ended up on a tenancy other than the local one; callers must surface
// that to the end user.
type Outcome struct {
	ServerName  string `json:"server_name"`
	CrossServer bool   `json:"cross_server"`
}

// Engine decides which tenancy owns a new bot and drives the transactional
// registration primitives.
type Engine struct {
	servers   domainServer.IServerRepository
	registrar domainServer.IRegistrar
	tenancy   string
}

func NewEngine(servers domainServer.IServerRepository, registrar domainServer.IRegistrar, tenancy string) *Engine {
	return &Engine{servers: servers, registrar: registrar, tenancy: tenancy}
}

// ResolveCanonical picks the tenancy that owns (or will own) a phone.
// An existing god-registry row always wins; otherwise an explicit selection,
// otherwise the local tenancy.
func (e *Engine) ResolveCanonical(ctx context.Context, phone, selectedServer string) (string, error) {
	reg, err := e.servers.GetRegistration(ctx, phone)
	if err != nil {
		return "", err
	}
	if reg != nil {
		return reg.ServerName, nil
	}
	if selectedServer != "" {
		return selectedServer, nil
	}
	return e.tenancy, nil
}

// PickServer returns the tenancy to place a new bot on. When the preferred
// tenancy is full and the caller did not pin one explicitly, the fullest-
// capacity fallback is the catalog server with the most free slots.
func (e *Engine) PickServer(ctx context.Context, preferred string, explicit bool) (string, error) {
	cap, err := e.servers.CheckCapacity(ctx, preferred)
	if err != nil {
		return "", err
	}
	if cap.CanAdd {
		return preferred, nil
	}
	if explicit {
		alternatives, altErr := e.freeSlotAlternatives(ctx, preferred)
		if altErr != nil {
			logrus.Warnf("[PLACEMENT] Failed to list alternatives: %v", altErr)
		}
		return "", pkgError.CapacityError{
			Server:       preferred,
			Current:      cap.Current,
			Max:          cap.Max,
			Alternatives: alternatives,
		}
	}

	fallback, err := e.mostFreeServer(ctx, preferred)
	if err != nil {
		return "", err
	}
	if fallback == "" {
		return "", pkgError.CapacityError{} // ALL_FULL
	}
	logrus.Infof("[PLACEMENT] %s is full, falling back to %s", preferred, fallback)
	return fallback, nil
}

// Register runs the full placement flow for a new bot and returns where it
// landed. The bot's ServerName is set to the chosen tenancy before the
// transactional insert.
func (e *Engine) Register(ctx context.Context, bot *domainInstance.BotInstance, selectedServer string) (*Outcome, error) {
	canonical, err := e.ResolveCanonical(ctx, bot.PhoneNumber, selectedServer)
	if err != nil {
		return nil, err
	}

	target, err := e.PickServer(ctx, canonical, selectedServer != "")
	if err != nil {
		return nil, err
	}

	bot.ServerName = target
	if err := e.registrar.CreateCrossServerRegistration(ctx, bot.PhoneNumber, target, bot); err != nil {
		return nil, err
	}

	return &Outcome{
		ServerName:  target,
		CrossServer: target != e.tenancy,
	}, nil
}

// Rollback undoes a registration. Never returns a business error; partial
// cleanup is logged and swallowed by the registrar.
func (e *Engine) Rollback(ctx context.Context, phone, botID, serverName string) {
	if err := e.registrar.RollbackCrossServerRegistration(ctx, phone, botID, serverName); err != nil {
		logrus.Errorf("[PLACEMENT] Rollback for %s on %s failed: %v", botID, serverName, err)
	}
}

// Migrate moves a bot to another tenancy after a capacity check on the
// target. Counts and the god-registry row move in the same transaction.
func (e *Engine) Migrate(ctx context.Context, botID, source, target string) error {
	if source == target {
		return pkgError.ValidationError("bot is already on " + target)
	}
	cap, err := e.servers.CheckCapacity(ctx, target)
	if err != nil {
		return err
	}
	if !cap.CanAdd {
		return pkgError.CapacityError{Server: target, Current: cap.Current, Max: cap.Max}
	}
	return e.registrar.MigrateBot(ctx, botID, source, target)
}

func (e *Engine) mostFreeServer(ctx context.Context, exclude string) (string, error) {
	servers, err := e.servers.ListServers(ctx)
	if err != nil {
		return "", err
	}
	best := ""
	bestFree := 0
	for _, srv := range servers {
		if srv.Name == exclude || srv.Status != "active" {
			continue
		}
		free := srv.MaxBotCount - srv.CurrentBotCount
		if free > bestFree {
			best = srv.Name
			bestFree = free
		}
	}
	return best, nil
}

func (e *Engine) freeSlotAlternatives(ctx context.Context, exclude string) ([]pkgError.ServerSlot, error) {
	servers, err := e.servers.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	var out []pkgError.ServerSlot
	for _, srv := range servers {
		if srv.Name == exclude || srv.Status != "active" {
			continue
		}
		if free := srv.MaxBotCount - srv.CurrentBotCount; free > 0 {
			out = append(out, pkgError.ServerSlot{Name: srv.Name, FreeSlots: free})
		}
	}
	return out, nil
}
