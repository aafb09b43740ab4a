package tenancy

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/vault"
)

type fakeServers struct {
	servers map[string]*domainServer.Server
}

func (f *fakeServers) GetServer(_ context.Context, name string) (*domainServer.Server, error) {
	if s, ok := f.servers[name]; ok {
		return s, nil
	}
	return nil, pkgError.NotFoundError("server not found")
}

func (f *fakeServers) ListServers(_ context.Context) ([]domainServer.Server, error) { return nil, nil }
func (f *fakeServers) UpsertServer(_ context.Context, _ *domainServer.Server) error { return nil }
func (f *fakeServers) DeleteServer(_ context.Context, _ string) error               { return nil }
func (f *fakeServers) CheckCapacity(_ context.Context, _ string) (domainServer.Capacity, error) {
	return domainServer.Capacity{CanAdd: true}, nil
}
func (f *fakeServers) GetRegistration(_ context.Context, _ string) (*domainServer.GlobalRegistration, error) {
	return nil, nil
}
func (f *fakeServers) ListRegistrations(_ context.Context) ([]domainServer.GlobalRegistration, error) {
	return nil, nil
}
func (f *fakeServers) DeleteRegistration(_ context.Context, _ string) error         { return nil }
func (f *fakeServers) UpdateRegistration(_ context.Context, _, _ string) error      { return nil }
func (f *fakeServers) GetOffer(_ context.Context, _ string) (*domainServer.OfferConfig, error) {
	return nil, nil
}
func (f *fakeServers) UpsertOffer(_ context.Context, _ *domainServer.OfferConfig) error { return nil }

type fakeBots struct {
	mu      sync.Mutex
	bots    map[string]*domainInstance.BotInstance
	updates map[string]map[string]any
}

func newFakeBots(bots ...*domainInstance.BotInstance) *fakeBots {
	f := &fakeBots{bots: make(map[string]*domainInstance.BotInstance), updates: make(map[string]map[string]any)}
	for _, b := range bots {
		f.bots[b.ID] = b
	}
	return f
}

func (f *fakeBots) Create(_ context.Context, bot *domainInstance.BotInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bots[bot.ID] = bot
	return nil
}

func (f *fakeBots) GetByID(_ context.Context, id string) (*domainInstance.BotInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bots[id]; ok {
		return b, nil
	}
	return nil, pkgError.NotFoundError("bot not found")
}

func (f *fakeBots) GetByPhone(_ context.Context, _ string) (*domainInstance.BotInstance, error) {
	return nil, pkgError.NotFoundError("bot not found")
}
func (f *fakeBots) List(_ context.Context) ([]domainInstance.BotInstance, error)          { return nil, nil }
func (f *fakeBots) ListFleet(_ context.Context) ([]domainInstance.BotInstance, error)     { return nil, nil }
func (f *fakeBots) ListResumable(_ context.Context) ([]domainInstance.BotInstance, error) { return nil, nil }
func (f *fakeBots) Update(_ context.Context, _ *domainInstance.BotInstance) error         { return nil }

func (f *fakeBots) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bots[id]; !ok {
		return pkgError.NotFoundError("bot not found")
	}
	f.updates[id] = fields
	return nil
}

func (f *fakeBots) Delete(_ context.Context, _ string) error { return nil }
func (f *fakeBots) GetBotOnServer(_ context.Context, _, _ string) (*domainInstance.BotInstance, error) {
	return nil, pkgError.NotFoundError("bot not found")
}
func (f *fakeBots) GetBotOnServerByPhone(_ context.Context, _, _ string) (*domainInstance.BotInstance, error) {
	return nil, nil
}
func (f *fakeBots) UpdateBotOnServer(_ context.Context, _, _ string, _ map[string]any) error {
	return nil
}

type fakeRegistrar struct {
	created []string
}

func (f *fakeRegistrar) CreateCrossServerRegistration(_ context.Context, phone, target string, _ *domainInstance.BotInstance) error {
	f.created = append(f.created, phone+"@"+target)
	return nil
}
func (f *fakeRegistrar) RollbackCrossServerRegistration(_ context.Context, _, _, _ string) error {
	return nil
}
func (f *fakeRegistrar) CascadeDeleteBot(_ context.Context, _, _ string) error { return nil }
func (f *fakeRegistrar) MigrateBot(_ context.Context, _, _, _ string) error    { return nil }

type fakeActivity struct {
	mu   sync.Mutex
	logs []domainActivity.Activity
}

func (f *fakeActivity) Log(_ context.Context, act *domainActivity.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, *act)
	return nil
}
func (f *fakeActivity) List(_ context.Context, _ int) ([]domainActivity.Activity, error) {
	return nil, nil
}
func (f *fakeActivity) ListForBot(_ context.Context, _ string, _ int) ([]domainActivity.Activity, error) {
	return nil, nil
}
func (f *fakeActivity) CreateCrossTenancyActivity(_ context.Context, _ string, act *domainActivity.Activity) error {
	return f.Log(context.Background(), act)
}

type fakeSupervisor struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeSupervisor) record(action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
}

func (f *fakeSupervisor) CreateBot(_ context.Context, bot *domainInstance.BotInstance) error {
	f.record("create:" + bot.ID)
	return nil
}
func (f *fakeSupervisor) StartBot(_ context.Context, id string) error {
	f.record("start:" + id)
	return nil
}
func (f *fakeSupervisor) StopBot(_ context.Context, id string, _ bool) error {
	f.record("stop:" + id)
	return nil
}
func (f *fakeSupervisor) RestartBot(_ context.Context, id string) error {
	f.record("restart:" + id)
	return nil
}
func (f *fakeSupervisor) DestroyBot(_ context.Context, id string) error {
	f.record("destroy:" + id)
	return nil
}
func (f *fakeSupervisor) GetStatus(_ string) domainInstance.Status {
	return domainInstance.StatusOnline
}
func (f *fakeSupervisor) GetAllStatuses() map[string]domainInstance.Status { return nil }
func (f *fakeSupervisor) SendMessageThroughBot(_ context.Context, id, _, text string) error {
	f.record("send:" + id + ":" + text)
	return nil
}
func (f *fakeSupervisor) NotifyApproved(_ context.Context, _ *domainInstance.BotInstance) {}
func (f *fakeSupervisor) ResumeAll(_ context.Context) error                               { return nil }
func (f *fakeSupervisor) Shutdown()                                                       {}

type nilBotLookup struct{}

func (nilBotLookup) GetBotOnServerByPhone(_ context.Context, _, _ string) (*domainInstance.BotInstance, error) {
	return nil, nil
}

type nilRegLookup struct{}

func (nilRegLookup) GetRegistration(_ context.Context, _ string) (*domainServer.GlobalRegistration, error) {
	return nil, nil
}

func newTestApp(t *testing.T) (*fiber.App, *fakeSupervisor, *fakeActivity, *fakeBots) {
	t.Helper()
	servers := &fakeServers{servers: map[string]*domainServer.Server{
		"Server1": {Name: "Server1", SharedSecret: "secret-1", URL: "http://server1.local"},
		"Server2": {Name: "Server2", SharedSecret: "secret-2", URL: "http://server2.local"},
	}}
	bots := newFakeBots(&domainInstance.BotInstance{ID: "b1", Name: "alpha", PhoneNumber: "628000000001", ServerName: "Server2"})
	sup := &fakeSupervisor{}
	activity := &fakeActivity{}
	v := vault.NewVault(nilBotLookup{}, nilRegLookup{}, t.TempDir(), 5*1024*1024)

	h := NewHandler("Server2", servers, bots, &fakeRegistrar{}, activity, sup, v)
	app := fiber.New()
	h.Register(app)
	return app, sup, activity, bots
}

func doRPC(t *testing.T, app *fiber.App, op, source, target, secret string, data map[string]any) (int, Response) {
	t.Helper()
	token, err := SignToken(source, target, secret, data)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/internal/tenants/bots/"+op, nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	req.Header.Set("X-Source-Server", source)
	req.Header.Set("X-Target-Server", target)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var envelope Response
	require.NoError(t, json.Unmarshal(body, &envelope))
	return resp.StatusCode, envelope
}

func TestRPCMissingHeaders(t *testing.T) {
	app, _, _, _ := newTestApp(t)

	req := httptest.NewRequest("POST", "/internal/tenants/bots/health", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRPCWrongTarget(t *testing.T) {
	app, _, _, _ := newTestApp(t)

	code, envelope := doRPC(t, app, "health", "Server1", "Server9", "secret-1", nil)
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.False(t, envelope.Success)
}

func TestRPCUnknownSource(t *testing.T) {
	app, _, _, _ := newTestApp(t)

	code, envelope := doRPC(t, app, "health", "Rogue", "Server2", "whatever", nil)
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.Contains(t, envelope.Error, "not in the catalog")
}

func TestRPCBadSignature(t *testing.T) {
	app, _, _, _ := newTestApp(t)

	// Signed with the wrong secret: Server1's catalog record says secret-1.
	code, _ := doRPC(t, app, "health", "Server1", "Server2", "forged-secret", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestRPCHealthLogsActivity(t *testing.T) {
	app, _, activity, _ := newTestApp(t)

	code, envelope := doRPC(t, app, "health", "Server1", "Server2", "secret-1", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, envelope.Success)

	activity.mu.Lock()
	defer activity.mu.Unlock()
	require.Len(t, activity.logs, 1)
	assert.Equal(t, domainActivity.TypeCrossTenancy, activity.logs[0].Type)
	assert.Equal(t, "Server1", activity.logs[0].RemoteServer)
}

func TestRPCLifecycleDispatch(t *testing.T) {
	app, sup, _, _ := newTestApp(t)

	code, envelope := doRPC(t, app, "lifecycle", "Server1", "Server2", "secret-1",
		map[string]any{"bot_id": "b1", "action": "restart"})
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, envelope.Success)

	sup.mu.Lock()
	defer sup.mu.Unlock()
	assert.Equal(t, []string{"restart:b1"}, sup.actions)
}

func TestRPCLifecycleUnknownAction(t *testing.T) {
	app, _, _, _ := newTestApp(t)

	code, envelope := doRPC(t, app, "lifecycle", "Server1", "Server2", "secret-1",
		map[string]any{"bot_id": "b1", "action": "hibernate"})
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, envelope.Error, "unknown lifecycle action")
}

func TestRPCNotifyDeliversThroughBot(t *testing.T) {
	app, sup, _, _ := newTestApp(t)

	code, envelope := doRPC(t, app, "notify", "Server1", "Server2", "secret-1",
		map[string]any{"bot_id": "b1", "text": "Session verified successfully."})
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, envelope.Success)

	sup.mu.Lock()
	defer sup.mu.Unlock()
	assert.Equal(t, []string{"send:b1:Session verified successfully."}, sup.actions)
}

func TestRPCNotifyRequiresText(t *testing.T) {
	app, _, _, _ := newTestApp(t)

	code, envelope := doRPC(t, app, "notify", "Server1", "Server2", "secret-1",
		map[string]any{"bot_id": "b1"})
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.False(t, envelope.Success)
}

func TestRPCUpdateFields(t *testing.T) {
	app, _, _, bots := newTestApp(t)

	code, envelope := doRPC(t, app, "update", "Server1", "Server2", "secret-1",
		map[string]any{"bot_id": "b1", "fields": map[string]any{"auto_like": true}})
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, envelope.Success)

	bots.mu.Lock()
	defer bots.mu.Unlock()
	assert.Equal(t, true, bots.updates["b1"]["auto_like"])
}

func TestRPCStatusUnknownBot(t *testing.T) {
	app, _, _, _ := newTestApp(t)

	code, envelope := doRPC(t, app, "status", "Server1", "Server2", "secret-1",
		map[string]any{"bot_id": "ghost"})
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.False(t, envelope.Success)
}
