package whatsapp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T, client *fakeClient) (*SessionVerifier, string) {
	t.Helper()
	root := t.TempDir()
	v := NewSessionVerifier(root, func(_ context.Context, _, _ string) (SessionClient, error) {
		return client, nil
	})
	v.pollBudget = 50 * time.Millisecond
	v.pollEvery = 5 * time.Millisecond
	return v, root
}

func TestVerifierAcceptsLiveCredentials(t *testing.T) {
	client := &fakeClient{loggedIn: true}
	v, root := newTestVerifier(t, client)

	err := v.TestCredentials(context.Background(), "b1", `{"creds":{}}`)
	require.NoError(t, err)

	assert.False(t, client.IsConnected(), "throwaway session must be torn down")
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "throwaway dir must be removed")
}

func TestVerifierRejectsDeadCredentials(t *testing.T) {
	client := &fakeClient{}
	v, root := newTestVerifier(t, client)

	err := v.TestCredentials(context.Background(), "b1", `{"creds":{}}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logged-in")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVerifierStopsOnCancelledContext(t *testing.T) {
	client := &fakeClient{}
	v, _ := newTestVerifier(t, client)
	v.pollBudget = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := v.TestCredentials(ctx, "b1", `{"creds":{}}`)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
