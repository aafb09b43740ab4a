package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	pkgError "github.com/wafleet/wafleet/pkg/error"
)

const (
	verifyPollBudget = 60 * time.Second
	verifyPollEvery  = 2 * time.Second
)

// SessionVerifier proves a credential blob can open a live WhatsApp session.
// Same throwaway-dir pattern as pairing: seed a temp session dir with the
// blob, connect, wait for the login to land, tear everything down.
type SessionVerifier struct {
	tmpRoot string
	factory ClientFactory

	pollBudget time.Duration
	pollEvery  time.Duration
}

func NewSessionVerifier(tmpRoot string, factory ClientFactory) *SessionVerifier {
	if factory == nil {
		factory = NewSessionClient
	}
	return &SessionVerifier{
		tmpRoot:    tmpRoot,
		factory:    factory,
		pollBudget: verifyPollBudget,
		pollEvery:  verifyPollEvery,
	}
}

// TestCredentials connects a throwaway session seeded with the blob and
// reports whether it reaches logged-in before the poll budget runs out.
func (v *SessionVerifier) TestCredentials(ctx context.Context, tag, credentials string) error {
	dir, err := os.MkdirTemp(v.tmpRoot, "verify-")
	if err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to create verify dir: %v", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logrus.Warnf("[VAULT] Failed to remove verify dir %s: %v", dir, err)
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, "creds.json"), []byte(credentials), 0o600); err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to seed verify session: %v", err))
	}

	client, err := v.factory(ctx, "verify-"+tag, dir)
	if err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to build verify client: %v", err))
	}
	defer client.Disconnect()

	if err := client.Connect(); err != nil {
		return pkgError.ValidationError(fmt.Sprintf("credentials failed to connect: %v", err))
	}

	deadline := time.Now().Add(v.pollBudget)
	for time.Now().Before(deadline) {
		if client.IsLoggedIn() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.pollEvery):
		}
	}
	return pkgError.ValidationError("credentials did not reach a logged-in session")
}
