package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
)

const rpcCallTimeout = 15 * time.Second

// Response is the cross-tenancy RPC envelope.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client calls peer tenancies over signed HTTP. The server catalog supplies
// both the peer's URL and this tenancy's signing secret.
type Client struct {
	tenancy string
	servers domainServer.IServerRepository
}

func NewClient(tenancy string, servers domainServer.IServerRepository) *Client {
	return &Client{tenancy: tenancy, servers: servers}
}

func (c *Client) call(ctx context.Context, targetName, op string, data map[string]any) (json.RawMessage, error) {
	target, err := c.servers.GetServer(ctx, targetName)
	if err != nil {
		return nil, pkgError.RPCError{Message: fmt.Sprintf("server %s is not in the catalog", targetName), Status: fiber.StatusForbidden}
	}
	if target.URL == "" {
		return nil, pkgError.RPCError{Message: fmt.Sprintf("server %s has no RPC URL configured", targetName), Status: fiber.StatusForbidden}
	}

	source, err := c.servers.GetServer(ctx, c.tenancy)
	if err != nil || source.SharedSecret == "" {
		return nil, pkgError.RPCError{Message: "local server has no shared secret configured", Status: fiber.StatusInternalServerError}
	}

	token, err := SignToken(c.tenancy, targetName, source.SharedSecret, data)
	if err != nil {
		return nil, pkgError.RPCError{Message: fmt.Sprintf("failed to sign RPC token: %v", err), Status: fiber.StatusInternalServerError}
	}

	url := strings.TrimRight(target.URL, "/") + "/internal/tenants/bots/" + op

	// The caller's deadline bounds the call; 15s is only the ceiling for
	// callers without one.
	timeout := rpcCallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, pkgError.RPCError{
				Message:   fmt.Sprintf("RPC %s to %s aborted: %v", op, targetName, ctx.Err()),
				Status:    fiber.StatusBadGateway,
				Transport: true,
			}
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(url)
	agent.Timeout(timeout)
	agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	agent.Set("X-Source-Server", c.tenancy)
	agent.Set("X-Target-Server", targetName)
	agent.JSON(fiber.Map{"op": op})

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		logrus.Warnf("[TENANCY] RPC %s to %s failed: %v", op, targetName, errs[0])
		return nil, pkgError.RPCError{
			Message:   fmt.Sprintf("RPC to %s failed: %v", targetName, errs[0]),
			Status:    fiber.StatusBadGateway,
			Transport: true,
		}
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, pkgError.RPCError{Message: fmt.Sprintf("malformed RPC response from %s", targetName), Status: fiber.StatusBadGateway, Transport: true}
	}

	if code >= 400 || !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("RPC %s rejected by %s (HTTP %d)", op, targetName, code)
		}
		// Business failure on the peer, not a transport fault.
		return nil, pkgError.RPCError{Message: msg, Status: code}
	}
	return resp.Data, nil
}

// Health probes a peer tenancy.
func (c *Client) Health(ctx context.Context, target string) error {
	_, err := c.call(ctx, target, "health", map[string]any{})
	return err
}

// CreateBot registers a bot on the owning tenancy.
func (c *Client) CreateBot(ctx context.Context, target string, bot map[string]any) (json.RawMessage, error) {
	return c.call(ctx, target, "create", map[string]any{"bot": bot})
}

// UpdateBot patches row fields on the owning tenancy.
func (c *Client) UpdateBot(ctx context.Context, target, botID string, fields map[string]any) error {
	_, err := c.call(ctx, target, "update", map[string]any{"bot_id": botID, "fields": fields})
	return err
}

// UpdateCredentials pushes a validated credential blob to the owning tenancy.
func (c *Client) UpdateCredentials(ctx context.Context, target, botID, phone, credentials string) error {
	_, err := c.call(ctx, target, "credentials", map[string]any{
		"bot_id":      botID,
		"phone":       phone,
		"credentials": credentials,
	})
	return err
}

// Lifecycle runs start/stop/restart on the owning tenancy's supervisor.
// These must go over HTTP: only the owning process holds the live workers.
func (c *Client) Lifecycle(ctx context.Context, target, botID, action string) error {
	_, err := c.call(ctx, target, "lifecycle", map[string]any{"bot_id": botID, "action": action})
	return err
}

// Notify delivers a text to a bot's own chat through the owning tenancy's
// supervisor. Only the owning process holds the live session.
func (c *Client) Notify(ctx context.Context, target, botID, text string) error {
	_, err := c.call(ctx, target, "notify", map[string]any{"bot_id": botID, "text": text})
	return err
}

// Status reads a bot's live status from the owning tenancy.
func (c *Client) Status(ctx context.Context, target, botID string) (json.RawMessage, error) {
	return c.call(ctx, target, "status", map[string]any{"bot_id": botID})
}
