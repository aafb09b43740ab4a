package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	"github.com/wafleet/wafleet/infrastructure/whatsapp"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/msgworker"
)

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	connectCalls int
	handler      whatsmeow.EventHandler
}

func (f *fakeClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsLoggedIn() bool { return true }

func (f *fakeClient) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return 1
}

func (f *fakeClient) RemoveEventHandler(_ uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	return true
}

func (f *fakeClient) SendMessage(_ context.Context, _ types.JID, _ *waE2E.Message, _ ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	return whatsmeow.SendResponse{}, nil
}

func (f *fakeClient) PairPhone(_ context.Context, _ string, _ bool, _ whatsmeow.PairClientType, _ string) (string, error) {
	return "", nil
}

func (f *fakeClient) Device() *store.Device { return nil }

func (f *fakeClient) emit(evt any) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(evt)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

type fakeInstanceRepo struct {
	mu      sync.Mutex
	bots    map[string]*domainInstance.BotInstance
	updates map[string][]map[string]any
}

func newFakeInstanceRepo(bots ...*domainInstance.BotInstance) *fakeInstanceRepo {
	r := &fakeInstanceRepo{
		bots:    make(map[string]*domainInstance.BotInstance),
		updates: make(map[string][]map[string]any),
	}
	for _, b := range bots {
		r.bots[b.ID] = b
	}
	return r
}

func (r *fakeInstanceRepo) fieldUpdates(id string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.updates[id]...)
}

func (r *fakeInstanceRepo) Create(_ context.Context, bot *domainInstance.BotInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[bot.ID] = bot
	return nil
}

func (r *fakeInstanceRepo) GetByID(_ context.Context, id string) (*domainInstance.BotInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bots[id]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, pkgError.NotFoundError("bot not found")
}

func (r *fakeInstanceRepo) GetByPhone(_ context.Context, phone string) (*domainInstance.BotInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bots {
		if b.PhoneNumber == phone {
			copied := *b
			return &copied, nil
		}
	}
	return nil, pkgError.NotFoundError("bot not found")
}

func (r *fakeInstanceRepo) List(_ context.Context) ([]domainInstance.BotInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainInstance.BotInstance, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, *b)
	}
	return out, nil
}

func (r *fakeInstanceRepo) ListFleet(ctx context.Context) ([]domainInstance.BotInstance, error) {
	return r.List(ctx)
}

func (r *fakeInstanceRepo) ListResumable(_ context.Context) ([]domainInstance.BotInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domainInstance.BotInstance
	for _, b := range r.bots {
		if b.ApprovalStatus == domainInstance.ApprovalApproved && (b.CredentialVerified || b.Credentials == nil) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeInstanceRepo) Update(_ context.Context, bot *domainInstance.BotInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[bot.ID] = bot
	return nil
}

func (r *fakeInstanceRepo) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bots[id]
	if !ok {
		return pkgError.NotFoundError("bot not found")
	}
	r.updates[id] = append(r.updates[id], fields)
	if v, ok := fields["status"].(string); ok {
		b.Status = domainInstance.Status(v)
	}
	if v, ok := fields["invalid_reason"].(string); ok {
		b.InvalidReason = v
	}
	if v, ok := fields["credential_verified"].(bool); ok {
		b.CredentialVerified = v
	}
	return nil
}

func (r *fakeInstanceRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bots, id)
	return nil
}

func (r *fakeInstanceRepo) GetBotOnServer(_ context.Context, _, _ string) (*domainInstance.BotInstance, error) {
	return nil, pkgError.NotFoundError("bot not found")
}

func (r *fakeInstanceRepo) GetBotOnServerByPhone(_ context.Context, _, _ string) (*domainInstance.BotInstance, error) {
	return nil, pkgError.NotFoundError("bot not found")
}

func (r *fakeInstanceRepo) UpdateBotOnServer(_ context.Context, _, _ string, _ map[string]any) error {
	return nil
}

type fakeActivityRepo struct {
	mu   sync.Mutex
	logs []domainActivity.Activity
}

func (r *fakeActivityRepo) Log(_ context.Context, act *domainActivity.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *act)
	return nil
}

func (r *fakeActivityRepo) List(_ context.Context, _ int) ([]domainActivity.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domainActivity.Activity(nil), r.logs...), nil
}

func (r *fakeActivityRepo) ListForBot(_ context.Context, botID string, _ int) ([]domainActivity.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domainActivity.Activity
	for _, a := range r.logs {
		if a.BotInstanceID == botID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeActivityRepo) CreateCrossTenancyActivity(_ context.Context, _ string, act *domainActivity.Activity) error {
	return r.Log(context.Background(), act)
}

func (r *fakeActivityRepo) typesLogged() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, a := range r.logs {
		out = append(out, a.Type)
	}
	return out
}

type fakeRegistrar struct {
	mu        sync.Mutex
	rollbacks []string
	repo      *fakeInstanceRepo
}

func (f *fakeRegistrar) CreateCrossServerRegistration(_ context.Context, _, _ string, _ *domainInstance.BotInstance) error {
	return nil
}

func (f *fakeRegistrar) RollbackCrossServerRegistration(_ context.Context, _, botID, _ string) error {
	f.mu.Lock()
	f.rollbacks = append(f.rollbacks, botID)
	f.mu.Unlock()
	if f.repo != nil {
		_ = f.repo.Delete(context.Background(), botID)
	}
	return nil
}

func (f *fakeRegistrar) CascadeDeleteBot(_ context.Context, _, _ string) error { return nil }

func (f *fakeRegistrar) MigrateBot(_ context.Context, _, _, _ string) error { return nil }

type eventRecorder struct {
	mu     sync.Mutex
	events []domainInstance.Event
}

func (r *eventRecorder) sink(evt domainInstance.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type scriptedFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	failFor map[string]bool
}

func (f *scriptedFactory) build(_ context.Context, botID, _ string) (whatsapp.SessionClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client := &fakeClient{}
	if f.failFor[botID] {
		client.connectErr = assert.AnError
	}
	if f.clients == nil {
		f.clients = make(map[string]*fakeClient)
	}
	f.clients[botID] = client
	return client, nil
}

func approvedBot(id, phone string) *domainInstance.BotInstance {
	return &domainInstance.BotInstance{
		ID:                 id,
		Name:               "bot-" + id,
		PhoneNumber:        phone,
		ServerName:         "Server1",
		Status:             domainInstance.StatusOffline,
		ApprovalStatus:     domainInstance.ApprovalApproved,
		CredentialVerified: true,
	}
}

func newTestSupervisor(t *testing.T, repo *fakeInstanceRepo, factory *scriptedFactory) (*Supervisor, *fakeActivityRepo, *fakeRegistrar, *eventRecorder) {
	t.Helper()
	activity := &fakeActivityRepo{}
	registrar := &fakeRegistrar{repo: repo}
	rec := &eventRecorder{}

	pool := msgworker.NewWorkerPool(4, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	s := New(repo, activity, registrar, pool, factory.build, rec.sink, t.TempDir())
	s.stagger = 5 * time.Millisecond
	s.watchdogAfter = 50 * time.Millisecond
	s.approvalWait = 5 * time.Millisecond
	return s, activity, registrar, rec
}

func TestResumeAllStartsOnlyResumableBots(t *testing.T) {
	creds := "blob"
	pending := &domainInstance.BotInstance{ID: "p1", PhoneNumber: "628000000001", ApprovalStatus: domainInstance.ApprovalPending}
	unverified := &domainInstance.BotInstance{ID: "u1", PhoneNumber: "628000000002", ApprovalStatus: domainInstance.ApprovalApproved, Credentials: &creds, CredentialVerified: false}
	resumable := approvedBot("r1", "628000000003")

	repo := newFakeInstanceRepo(pending, unverified, resumable)
	factory := &scriptedFactory{}
	s, _, _, _ := newTestSupervisor(t, repo, factory)

	require.NoError(t, s.ResumeAll(context.Background()))

	factory.mu.Lock()
	defer factory.mu.Unlock()
	assert.Len(t, factory.clients, 1)
	assert.Contains(t, factory.clients, "r1")
}

func TestResumeAllIsolatesFailures(t *testing.T) {
	botA := approvedBot("a", "628000000001")
	botB := approvedBot("b", "628000000002")
	botC := approvedBot("c", "628000000003")

	repo := newFakeInstanceRepo(botA, botB, botC)
	factory := &scriptedFactory{failFor: map[string]bool{"b": true}}
	s, activity, _, rec := newTestSupervisor(t, repo, factory)

	require.NoError(t, s.ResumeAll(context.Background()))

	factory.mu.Lock()
	assert.Len(t, factory.clients, 3, "a failing bot must not stop the rest")
	factory.mu.Unlock()

	assert.Contains(t, activity.typesLogged(), domainActivity.TypeBotError)
	types := rec.types()
	assert.Contains(t, types, domainInstance.EventBotError)
	assert.Contains(t, types, domainInstance.EventBotResumed)
}

func TestResumeAllGoesThroughSerializedPool(t *testing.T) {
	botA := approvedBot("a", "628000000001")
	botB := approvedBot("b", "628000000002")

	repo := newFakeInstanceRepo(botA, botB)
	factory := &scriptedFactory{}
	s, activity, _, rec := newTestSupervisor(t, repo, factory)

	require.NoError(t, s.ResumeAll(context.Background()))

	// Resume jobs share the per-bot dispatch path with operator commands.
	assert.GreaterOrEqual(t, s.PoolStats().TotalDispatched, int64(2))
	assert.Contains(t, activity.typesLogged(), domainActivity.TypeStartup)
	assert.Contains(t, rec.types(), domainInstance.EventBotResumed)
}

func TestTransientFaultKeepsBotResumable(t *testing.T) {
	creds := "blob"
	bot := approvedBot("t1", "628000000021")
	bot.Credentials = &creds

	repo := newFakeInstanceRepo(bot)
	factory := &scriptedFactory{}
	s, _, _, _ := newTestSupervisor(t, repo, factory)

	s.onWorkerStatus("t1", domainInstance.StatusError, "reconnect failed after 5 attempts", false)

	waitFor(t, func() bool {
		got, err := repo.GetByID(context.Background(), "t1")
		return err == nil && got.Status == domainInstance.StatusError
	})

	got, err := repo.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, got.CredentialVerified, "transient fault must not invalidate credentials")
	for _, fields := range repo.fieldUpdates("t1") {
		_, present := fields["credential_verified"]
		assert.False(t, present, "transient fault must not touch credential_verified")
	}

	resumable, err := repo.ListResumable(context.Background())
	require.NoError(t, err)
	assert.Len(t, resumable, 1, "bot must stay in the resume set")
}

func TestLogoutEvictsBotFromResumeSet(t *testing.T) {
	creds := "blob"
	bot := approvedBot("t2", "628000000022")
	bot.Credentials = &creds

	repo := newFakeInstanceRepo(bot)
	factory := &scriptedFactory{}
	s, _, _, _ := newTestSupervisor(t, repo, factory)

	s.onWorkerStatus("t2", domainInstance.StatusError, "logged out: 401", true)

	waitFor(t, func() bool {
		got, err := repo.GetByID(context.Background(), "t2")
		return err == nil && !got.CredentialVerified
	})

	resumable, err := repo.ListResumable(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resumable)
}

func TestWatchdogCleansUpStuckBot(t *testing.T) {
	stuck := &domainInstance.BotInstance{
		ID:             "s1",
		Name:           "stuck",
		PhoneNumber:    "628000000009",
		ServerName:     "Server1",
		Status:         domainInstance.StatusLoading,
		ApprovalStatus: domainInstance.ApprovalPending,
	}
	repo := newFakeInstanceRepo(stuck)
	factory := &scriptedFactory{}
	s, activity, registrar, rec := newTestSupervisor(t, repo, factory)

	require.NoError(t, s.CreateBot(context.Background(), stuck))

	waitFor(t, func() bool {
		registrar.mu.Lock()
		defer registrar.mu.Unlock()
		return len(registrar.rollbacks) == 1
	})

	assert.Contains(t, activity.typesLogged(), domainActivity.TypeAutoCleanup)
	assert.Contains(t, rec.types(), domainInstance.EventBotDeleted)

	_, err := repo.GetByID(context.Background(), "s1")
	assert.Error(t, err)
}

func TestWatchdogDisarmedByApproval(t *testing.T) {
	bot := approvedBot("ok1", "628000000010")
	bot.Status = domainInstance.StatusLoading
	repo := newFakeInstanceRepo(bot)
	factory := &scriptedFactory{}
	s, _, registrar, _ := newTestSupervisor(t, repo, factory)

	require.NoError(t, s.CreateBot(context.Background(), bot))
	s.NotifyApproved(context.Background(), bot)

	time.Sleep(150 * time.Millisecond)
	registrar.mu.Lock()
	defer registrar.mu.Unlock()
	assert.Empty(t, registrar.rollbacks, "approved bot must never be auto-cleaned")
}

func TestStartBotRequiresApproval(t *testing.T) {
	pending := &domainInstance.BotInstance{ID: "p2", PhoneNumber: "628000000011", ApprovalStatus: domainInstance.ApprovalPending}
	repo := newFakeInstanceRepo(pending)
	factory := &scriptedFactory{}
	s, _, _, _ := newTestSupervisor(t, repo, factory)

	err := s.StartBot(context.Background(), "p2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only approved bots")
}

func TestStatusTransitionBroadcast(t *testing.T) {
	bot := approvedBot("b1", "628000000012")
	repo := newFakeInstanceRepo(bot)
	factory := &scriptedFactory{}
	s, _, _, rec := newTestSupervisor(t, repo, factory)

	require.NoError(t, s.StartBot(context.Background(), "b1"))

	factory.mu.Lock()
	client := factory.clients["b1"]
	factory.mu.Unlock()
	require.NotNil(t, client)
	client.emit(&events.Connected{})

	waitFor(t, func() bool {
		for _, typ := range rec.types() {
			if typ == domainInstance.EventBotStatusChanged {
				return true
			}
		}
		return false
	})

	waitFor(t, func() bool {
		got, err := repo.GetByID(context.Background(), "b1")
		return err == nil && got.Status == domainInstance.StatusOnline
	})
	assert.Equal(t, domainInstance.StatusOnline, s.GetStatus("b1"))
}

func TestDestroyBotTearsDownWorker(t *testing.T) {
	bot := approvedBot("d1", "628000000013")
	repo := newFakeInstanceRepo(bot)
	factory := &scriptedFactory{}
	s, _, _, rec := newTestSupervisor(t, repo, factory)

	require.NoError(t, s.StartBot(context.Background(), "d1"))
	require.NoError(t, s.DestroyBot(context.Background(), "d1"))

	assert.Equal(t, domainInstance.StatusOffline, s.GetStatus("d1"))
	assert.Equal(t, 0, s.WorkerCount())
	assert.Contains(t, rec.types(), domainInstance.EventBotDeleted)
}
