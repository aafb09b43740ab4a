package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	"github.com/wafleet/wafleet/placement"
	"github.com/wafleet/wafleet/tenancy"
	"github.com/wafleet/wafleet/vault"
)

type instanceFixture struct {
	bots      *fakeBots
	servers   *fakeServers
	registrar *fakeRegistrar
	sup       *fakeSupervisor
	activity  *fakeActivity
	uc        domainInstance.IInstanceUsecase
}

func newInstanceFixture(t *testing.T, bots ...*domainInstance.BotInstance) *instanceFixture {
	t.Helper()
	repo := newFakeBots(bots...)
	servers := newFakeServers()
	servers.servers["Server1"] = &domainServer.Server{Name: "Server1", MaxBotCount: 10, Status: "active"}
	for _, b := range bots {
		servers.registrations[b.PhoneNumber] = b.ServerName
	}
	registrar := &fakeRegistrar{servers: servers, bots: repo}
	engine := placement.NewEngine(servers, registrar, "Server1")
	v := vault.NewVault(repo, servers, t.TempDir(), testMaxCredBytes)
	sup := &fakeSupervisor{}
	activity := &fakeActivity{}
	rpc := tenancy.NewClient("Server1", servers)
	return &instanceFixture{
		bots:      repo,
		servers:   servers,
		registrar: registrar,
		sup:       sup,
		activity:  activity,
		uc:        NewInstanceUsecase(repo, registrar, engine, sup, activity, v, rpc, "Server1"),
	}
}

func pendingBot() *domainInstance.BotInstance {
	return &domainInstance.BotInstance{
		ID:                 "b1",
		Name:               "my-bot",
		PhoneNumber:        "15550001111",
		ServerName:         "Server1",
		Status:             domainInstance.StatusLoading,
		ApprovalStatus:     domainInstance.ApprovalPending,
		CredentialVerified: true,
	}
}

func approvedBot(approvedAgo time.Duration, months int) *domainInstance.BotInstance {
	at := time.Now().Add(-approvedAgo)
	b := pendingBot()
	b.ApprovalStatus = domainInstance.ApprovalApproved
	b.ApprovalDate = &at
	b.ExpirationMonths = months
	return b
}

func TestApproveStartsVerifiedLocalBot(t *testing.T) {
	f := newInstanceFixture(t, pendingBot())

	bot, err := f.uc.Approve(context.Background(), "b1", domainInstance.ApproveBotRequest{ExpirationMonths: 2})
	require.NoError(t, err)

	assert.Equal(t, domainInstance.ApprovalApproved, bot.ApprovalStatus)
	assert.Equal(t, 2, bot.ExpirationMonths)
	require.NotNil(t, bot.ApprovalDate)
	assert.True(t, f.sup.did("notify:b1"))
	assert.True(t, f.sup.did("start:b1"))
	assert.True(t, f.activity.has(domainActivity.TypeApproval))
}

func TestApproveUnverifiedBotDoesNotStart(t *testing.T) {
	b := pendingBot()
	b.CredentialVerified = false
	f := newInstanceFixture(t, b)

	_, err := f.uc.Approve(context.Background(), "b1", domainInstance.ApproveBotRequest{ExpirationMonths: 1})
	require.NoError(t, err)
	assert.False(t, f.sup.did("start:b1"))
}

func TestApproveRequiresPositiveMonths(t *testing.T) {
	f := newInstanceFixture(t, pendingBot())

	_, err := f.uc.Approve(context.Background(), "b1", domainInstance.ApproveBotRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expiration_months must be positive")
}

func TestApproveAlreadyApproved(t *testing.T) {
	f := newInstanceFixture(t, approvedBot(time.Hour, 1))

	_, err := f.uc.Approve(context.Background(), "b1", domainInstance.ApproveBotRequest{ExpirationMonths: 1})
	require.Error(t, err)
	assert.Equal(t, "bot is already approved", err.Error())
}

func TestApproveWithMigration(t *testing.T) {
	f := newInstanceFixture(t, pendingBot())
	f.servers.servers["Server2"] = &domainServer.Server{Name: "Server2", MaxBotCount: 5, Status: "active"}

	bot, err := f.uc.Approve(context.Background(), "b1", domainInstance.ApproveBotRequest{
		ExpirationMonths: 1,
		TargetServer:     "Server2",
	})
	require.NoError(t, err)

	assert.Equal(t, "Server2", bot.ServerName)
	assert.Equal(t, []string{"b1:Server1>Server2"}, f.registrar.migrates)
	assert.True(t, f.activity.has(domainActivity.TypeMigration))
	// The bot now lives elsewhere; this tenancy must not start it.
	assert.False(t, f.sup.did("start:b1"))
}

func TestApproveMigrationTargetFull(t *testing.T) {
	f := newInstanceFixture(t, pendingBot())
	f.servers.servers["Server2"] = &domainServer.Server{Name: "Server2", MaxBotCount: 5, CurrentBotCount: 5, Status: "active"}

	_, err := f.uc.Approve(context.Background(), "b1", domainInstance.ApproveBotRequest{
		ExpirationMonths: 1,
		TargetServer:     "Server2",
	})
	require.Error(t, err)
	assert.Equal(t, "Server2 is full (5/5). Please select a different server", err.Error())
	assert.Empty(t, f.registrar.migrates)
}

func TestRevokeApprovedBot(t *testing.T) {
	f := newInstanceFixture(t, approvedBot(time.Hour, 1))

	bot, err := f.uc.Revoke(context.Background(), "b1")
	require.NoError(t, err)

	assert.Equal(t, domainInstance.ApprovalPending, bot.ApprovalStatus)
	assert.Nil(t, bot.ApprovalDate)
	assert.Equal(t, domainInstance.StatusOffline, bot.Status)
	assert.True(t, f.sup.did("stop:b1"))
	assert.True(t, f.activity.has(domainActivity.TypeRevocation))
}

func TestRevokeUnapprovedBot(t *testing.T) {
	f := newInstanceFixture(t, pendingBot())

	_, err := f.uc.Revoke(context.Background(), "b1")
	require.Error(t, err)
	assert.Equal(t, "only approved bots can be revoked", err.Error())
}

func TestRejectApprovedBotRefused(t *testing.T) {
	f := newInstanceFixture(t, approvedBot(time.Hour, 1))

	_, err := f.uc.Reject(context.Background(), "b1")
	require.Error(t, err)
	assert.Equal(t, "approved bots must be revoked, not rejected", err.Error())
}

func TestRejectPendingBot(t *testing.T) {
	f := newInstanceFixture(t, pendingBot())

	bot, err := f.uc.Reject(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, domainInstance.ApprovalRejected, bot.ApprovalStatus)
	assert.True(t, f.activity.has(domainActivity.TypeRejection))
}

func TestDeleteCascades(t *testing.T) {
	f := newInstanceFixture(t, approvedBot(time.Hour, 1))

	err := f.uc.Delete(context.Background(), "b1")
	require.NoError(t, err)

	assert.True(t, f.sup.did("destroy:b1"))
	assert.Equal(t, []string{"b1"}, f.registrar.cascades)
	assert.True(t, f.activity.has(domainActivity.TypeDeletion))

	_, err = f.bots.GetByID(context.Background(), "b1")
	require.Error(t, err)
}

func TestStartExpiredSubscription(t *testing.T) {
	// Exactly one 30-day month ago: expired at the boundary instant.
	f := newInstanceFixture(t, approvedBot(30*24*time.Hour, 1))

	err := f.uc.Start(context.Background(), "b1")
	require.Error(t, err)
	assert.Equal(t, "bot subscription has expired", err.Error())
	assert.False(t, f.sup.did("start:b1"))
}

func TestStartJustBeforeExpiry(t *testing.T) {
	f := newInstanceFixture(t, approvedBot(30*24*time.Hour-time.Minute, 1))

	err := f.uc.Start(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, f.sup.did("start:b1"))
}

func TestRestartExpiredSubscription(t *testing.T) {
	f := newInstanceFixture(t, approvedBot(61*24*time.Hour, 2))

	err := f.uc.Restart(context.Background(), "b1")
	require.Error(t, err)
	assert.Equal(t, "bot subscription has expired", err.Error())
}

func TestUpdateNoFields(t *testing.T) {
	f := newInstanceFixture(t, pendingBot())

	_, err := f.uc.Update(context.Background(), "b1", domainInstance.UpdateBotRequest{})
	require.Error(t, err)
	assert.Equal(t, "no fields to update", err.Error())
}

func TestUpdateAppliesFields(t *testing.T) {
	f := newInstanceFixture(t, pendingBot())
	name := "renamed"
	autoLike := true

	bot, err := f.uc.Update(context.Background(), "b1", domainInstance.UpdateBotRequest{
		Name:     &name,
		AutoLike: &autoLike,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", bot.Name)

	updates := f.bots.updates["b1"]
	require.Len(t, updates, 1)
	assert.Equal(t, "renamed", updates[0]["name"])
	assert.Equal(t, true, updates[0]["auto_like"])
}

func TestBatchAccumulatesFailures(t *testing.T) {
	f := newInstanceFixture(t, approvedBot(time.Hour, 1))

	results := f.uc.Batch(context.Background(), domainInstance.BatchRequest{
		Action: "start",
		Items: []domainInstance.BatchItem{
			{BotID: "b1"},
			{BotID: "missing"},
		},
	})
	require.Len(t, results, 2)

	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, f.sup.did("start:b1"))
}

func TestBatchForeignLifecycleRoutesOverRPC(t *testing.T) {
	f := newInstanceFixture(t)
	// Server2 is catalogued but has no RPC URL, so the routed call fails
	// with an RPC error rather than a local lookup miss.
	f.servers.servers["Server2"] = &domainServer.Server{Name: "Server2", MaxBotCount: 5, Status: "active"}

	results := f.uc.Batch(context.Background(), domainInstance.BatchRequest{
		Action: "start",
		Items:  []domainInstance.BatchItem{{BotID: "remote-1", ServerName: "Server2"}},
	})
	require.Len(t, results, 1)

	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "no RPC URL")
	assert.NotContains(t, results[0].Error, "bot not found")
	assert.False(t, f.sup.did("start:remote-1"))
}

func TestBatchForeignApproveUpdatesOwningRow(t *testing.T) {
	b := pendingBot()
	b.ID = "remote-2"
	b.ServerName = "Server2"
	f := newInstanceFixture(t, b)
	f.servers.servers["Server2"] = &domainServer.Server{Name: "Server2", MaxBotCount: 5, Status: "active"}

	results := f.uc.Batch(context.Background(), domainInstance.BatchRequest{
		Action:           "approve",
		ExpirationMonths: 1,
		Items:            []domainInstance.BatchItem{{BotID: "remote-2", ServerName: "Server2"}},
	})
	require.Len(t, results, 1)
	require.True(t, results[0].OK, results[0].Error)

	got, err := f.bots.GetByID(context.Background(), "remote-2")
	require.NoError(t, err)
	assert.Equal(t, domainInstance.ApprovalApproved, got.ApprovalStatus)
	require.NotNil(t, got.ApprovalDate)
	// Approval of a foreign bot never starts a worker here.
	assert.False(t, f.sup.did("start:remote-2"))
}

func TestBatchUnknownAction(t *testing.T) {
	f := newInstanceFixture(t, pendingBot())

	results := f.uc.Batch(context.Background(), domainInstance.BatchRequest{
		Action: "explode",
		Items:  []domainInstance.BatchItem{{BotID: "b1"}},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "unknown batch action")
}
