package usecase

import (
	"context"
	"sync"
	"time"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainGuest "github.com/wafleet/wafleet/domains/guest"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
)

type fakeBots struct {
	mu      sync.Mutex
	bots    map[string]*domainInstance.BotInstance
	updates map[string][]map[string]any
}

func newFakeBots(bots ...*domainInstance.BotInstance) *fakeBots {
	f := &fakeBots{bots: make(map[string]*domainInstance.BotInstance), updates: make(map[string][]map[string]any)}
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
		copied := *b
		return &copied, nil
	}
	return nil, pkgError.NotFoundError("bot not found")
}

func (f *fakeBots) GetByPhone(_ context.Context, phone string) (*domainInstance.BotInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bots {
		if b.PhoneNumber == phone {
			copied := *b
			return &copied, nil
		}
	}
	return nil, pkgError.NotFoundError("bot not found")
}

func (f *fakeBots) List(_ context.Context) ([]domainInstance.BotInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domainInstance.BotInstance, 0, len(f.bots))
	for _, b := range f.bots {
		out = append(out, *b)
	}
	return out, nil
}

func (f *fakeBots) ListFleet(ctx context.Context) ([]domainInstance.BotInstance, error) {
	return f.List(ctx)
}

func (f *fakeBots) ListResumable(_ context.Context) ([]domainInstance.BotInstance, error) {
	return nil, nil
}

func (f *fakeBots) Update(_ context.Context, bot *domainInstance.BotInstance) error {
	return f.Create(context.Background(), bot)
}

func (f *fakeBots) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[id]
	if !ok {
		return pkgError.NotFoundError("bot not found")
	}
	f.updates[id] = append(f.updates[id], fields)
	applyFields(b, fields)
	return nil
}

func (f *fakeBots) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bots, id)
	return nil
}

func (f *fakeBots) GetBotOnServer(_ context.Context, serverName, botID string) (*domainInstance.BotInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bots[botID]; ok && b.ServerName == serverName {
		copied := *b
		return &copied, nil
	}
	return nil, pkgError.NotFoundError("bot not found")
}

func (f *fakeBots) GetBotOnServerByPhone(_ context.Context, serverName, phone string) (*domainInstance.BotInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bots {
		if b.ServerName == serverName && b.PhoneNumber == phone {
			copied := *b
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeBots) UpdateBotOnServer(_ context.Context, serverName, botID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[botID]
	if !ok || b.ServerName != serverName {
		return pkgError.NotFoundError("bot not found on server")
	}
	f.updates[botID] = append(f.updates[botID], fields)
	applyFields(b, fields)
	return nil
}

func applyFields(b *domainInstance.BotInstance, fields map[string]any) {
	if v, ok := fields["approval_status"].(string); ok {
		b.ApprovalStatus = domainInstance.ApprovalStatus(v)
	}
	if v, ok := fields["status"].(string); ok {
		b.Status = domainInstance.Status(v)
	}
	if v, ok := fields["expiration_months"].(int); ok {
		b.ExpirationMonths = v
	}
	if v, ok := fields["approval_date"]; ok {
		if t, ok := v.(time.Time); ok {
			b.ApprovalDate = &t
		} else {
			b.ApprovalDate = nil
		}
	}
	if v, ok := fields["credentials"].(string); ok {
		b.Credentials = &v
	}
	if v, ok := fields["credential_verified"].(bool); ok {
		b.CredentialVerified = v
	}
	if v, ok := fields["name"].(string); ok {
		b.Name = v
	}
}

type fakeServers struct {
	mu            sync.Mutex
	servers       map[string]*domainServer.Server
	registrations map[string]string
	offers        map[string]*domainServer.OfferConfig
}

func newFakeServers() *fakeServers {
	return &fakeServers{
		servers:       make(map[string]*domainServer.Server),
		registrations: make(map[string]string),
		offers:        make(map[string]*domainServer.OfferConfig),
	}
}

func (f *fakeServers) GetServer(_ context.Context, name string) (*domainServer.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.servers[name]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, pkgError.NotFoundError("server not found")
}

func (f *fakeServers) ListServers(_ context.Context) ([]domainServer.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domainServer.Server, 0, len(f.servers))
	for _, s := range f.servers {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeServers) UpsertServer(_ context.Context, srv *domainServer.Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[srv.Name] = srv
	return nil
}

func (f *fakeServers) DeleteServer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.servers, name)
	return nil
}

func (f *fakeServers) CheckCapacity(_ context.Context, name string) (domainServer.Capacity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[name]
	if !ok {
		return domainServer.Capacity{}, pkgError.NotFoundError("server not found")
	}
	return domainServer.Capacity{
		CanAdd:  s.CurrentBotCount < s.MaxBotCount,
		Current: s.CurrentBotCount,
		Max:     s.MaxBotCount,
		Server:  name,
	}, nil
}

func (f *fakeServers) GetRegistration(_ context.Context, phone string) (*domainServer.GlobalRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if srv, ok := f.registrations[phone]; ok {
		return &domainServer.GlobalRegistration{PhoneNumber: phone, ServerName: srv}, nil
	}
	return nil, nil
}

func (f *fakeServers) ListRegistrations(_ context.Context) ([]domainServer.GlobalRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domainServer.GlobalRegistration
	for phone, srv := range f.registrations {
		out = append(out, domainServer.GlobalRegistration{PhoneNumber: phone, ServerName: srv})
	}
	return out, nil
}

func (f *fakeServers) DeleteRegistration(_ context.Context, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registrations, phone)
	return nil
}

func (f *fakeServers) UpdateRegistration(_ context.Context, phone, serverName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations[phone] = serverName
	return nil
}

func (f *fakeServers) GetOffer(_ context.Context, serverName string) (*domainServer.OfferConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers[serverName], nil
}

func (f *fakeServers) UpsertOffer(_ context.Context, offer *domainServer.OfferConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers[offer.ServerName] = offer
	return nil
}

type fakeRegistrar struct {
	mu        sync.Mutex
	servers   *fakeServers
	bots      *fakeBots
	rollbacks []string
	cascades  []string
	migrates  []string
}

func (f *fakeRegistrar) CreateCrossServerRegistration(ctx context.Context, phone, target string, bot *domainInstance.BotInstance) error {
	if f.servers != nil {
		reg, _ := f.servers.GetRegistration(ctx, phone)
		if reg != nil {
			return pkgError.ConflictError{
				Message:      "This phone number is registered to " + reg.ServerName + ". Please use that server to manage your bot",
				RegisteredTo: reg.ServerName,
			}
		}
		_ = f.servers.UpdateRegistration(ctx, phone, target)
	}
	if f.bots != nil {
		bot.ServerName = target
		_ = f.bots.Create(ctx, bot)
	}
	return nil
}

func (f *fakeRegistrar) RollbackCrossServerRegistration(ctx context.Context, phone, botID, _ string) error {
	f.mu.Lock()
	f.rollbacks = append(f.rollbacks, botID)
	f.mu.Unlock()
	if f.servers != nil {
		_ = f.servers.DeleteRegistration(ctx, phone)
	}
	if f.bots != nil {
		_ = f.bots.Delete(ctx, botID)
	}
	return nil
}

func (f *fakeRegistrar) CascadeDeleteBot(ctx context.Context, _, botID string) error {
	f.mu.Lock()
	f.cascades = append(f.cascades, botID)
	f.mu.Unlock()
	if f.bots != nil {
		_ = f.bots.Delete(ctx, botID)
	}
	return nil
}

func (f *fakeRegistrar) MigrateBot(_ context.Context, botID, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.migrates = append(f.migrates, botID+":"+source+">"+target)
	if f.bots != nil {
		f.bots.mu.Lock()
		if b, ok := f.bots.bots[botID]; ok {
			b.ServerName = target
			f.servers.mu.Lock()
			f.servers.registrations[b.PhoneNumber] = target
			f.servers.mu.Unlock()
		}
		f.bots.mu.Unlock()
	}
	return nil
}

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
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domainActivity.Activity(nil), f.logs...), nil
}

func (f *fakeActivity) ListForBot(_ context.Context, _ string, _ int) ([]domainActivity.Activity, error) {
	return nil, nil
}

func (f *fakeActivity) CreateCrossTenancyActivity(_ context.Context, _ string, act *domainActivity.Activity) error {
	return f.Log(context.Background(), act)
}

func (f *fakeActivity) has(actType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.logs {
		if a.Type == actType {
			return true
		}
	}
	return false
}

type fakeSupervisor struct {
	mu       sync.Mutex
	actions  []string
	messages []string
	sendErr  error
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
	return domainInstance.StatusOffline
}

func (f *fakeSupervisor) GetAllStatuses() map[string]domainInstance.Status { return nil }

func (f *fakeSupervisor) SendMessageThroughBot(_ context.Context, id, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.messages = append(f.messages, id+":"+text)
	return nil
}

func (f *fakeSupervisor) NotifyApproved(_ context.Context, bot *domainInstance.BotInstance) {
	f.record("notify:" + bot.ID)
}

func (f *fakeSupervisor) ResumeAll(_ context.Context) error { return nil }

func (f *fakeSupervisor) Shutdown() {}

func (f *fakeSupervisor) did(action string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actions {
		if a == action {
			return true
		}
	}
	return false
}

type fakeTester struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTester) TestCredentials(_ context.Context, tag, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tag)
	return f.err
}

func (f *fakeTester) tested(tag string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == tag {
			return true
		}
	}
	return false
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]domainGuest.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]domainGuest.Session)}
}

func (s *memStore) Put(_ context.Context, sess domainGuest.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.PhoneNumber] = sess
	return nil
}

func (s *memStore) Get(_ context.Context, phone string) (*domainGuest.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[phone]; ok {
		return &sess, nil
	}
	return nil, nil
}

func (s *memStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, phone)
	return nil
}
