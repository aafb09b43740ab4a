package whatsapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/util/keys"
	"google.golang.org/protobuf/proto"

	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
)

const (
	// pairingSessionTTL is an absolute deadline; the temp session is cleaned
	// regardless of pairing progress.
	pairingSessionTTL = 4 * time.Minute
	pairingPollBudget = 60 * time.Second
	pairingPollEvery  = 2 * time.Second
)

type pairingSession struct {
	phone     string
	code      string
	dir       string
	client    SessionClient
	createdAt time.Time

	mu          sync.Mutex
	credentials string // base64 export, set once pairing completes
	failure     error
}

// PairingManager runs phone-pairing flows in throwaway session dirs. The
// resulting credentials are pushed to the user's own chat and kept available
// for polling until the session expires.
type PairingManager struct {
	mu       sync.Mutex
	sessions map[string]*pairingSession
	tmpRoot  string
	factory  ClientFactory
}

func NewPairingManager(tmpRoot string, factory ClientFactory) *PairingManager {
	if factory == nil {
		factory = NewSessionClient
	}
	return &PairingManager{
		sessions: make(map[string]*pairingSession),
		tmpRoot:  tmpRoot,
		factory:  factory,
	}
}

// RequestCode starts a pairing session and returns the code the user types
// into their phone. A second request for the same phone replaces the first.
func (m *PairingManager) RequestCode(ctx context.Context, phone string) (string, error) {
	phone = utils.SanitizePhone(phone)
	if !utils.IsValidPhone(phone) {
		return "", pkgError.ValidationError("invalid phone number")
	}

	m.mu.Lock()
	if prev, ok := m.sessions[phone]; ok {
		delete(m.sessions, phone)
		go m.cleanup(prev)
	}
	m.mu.Unlock()

	dir, err := os.MkdirTemp(m.tmpRoot, "pairing-")
	if err != nil {
		return "", pkgError.InternalServerError(fmt.Sprintf("failed to create pairing dir: %v", err))
	}

	client, err := m.factory(ctx, "pairing-"+phone, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", pkgError.InternalServerError(fmt.Sprintf("failed to build pairing client: %v", err))
	}
	if err := client.Connect(); err != nil {
		_ = os.RemoveAll(dir)
		return "", pkgError.InternalServerError(fmt.Sprintf("failed to connect pairing client: %v", err))
	}

	code, err := client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		client.Disconnect()
		_ = os.RemoveAll(dir)
		return "", pkgError.InternalServerError(fmt.Sprintf("failed to request pairing code: %v", err))
	}

	sess := &pairingSession{
		phone:     phone,
		code:      code,
		dir:       dir,
		client:    client,
		createdAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[phone] = sess
	m.mu.Unlock()

	go m.watch(sess)
	go m.expire(sess)

	logrus.Infof("[PAIRING] Issued pairing code for %s", phone)
	return code, nil
}

// Collect returns the exported credentials once pairing completed. ready is
// false while pairing is still in progress.
func (m *PairingManager) Collect(phone string) (string, bool, error) {
	phone = utils.SanitizePhone(phone)

	m.mu.Lock()
	sess, ok := m.sessions[phone]
	m.mu.Unlock()
	if !ok {
		return "", false, pkgError.NotFoundError("no pairing session for this phone")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.failure != nil {
		return "", false, sess.failure
	}
	return sess.credentials, sess.credentials != "", nil
}

// watch sleep-polls for the login to land, then exports the credentials and
// pushes them to the user's own chat.
func (m *PairingManager) watch(sess *pairingSession) {
	deadline := time.Now().Add(pairingPollBudget)
	for time.Now().Before(deadline) {
		time.Sleep(pairingPollEvery)
		if sess.client.IsLoggedIn() {
			m.complete(sess)
			return
		}
	}

	sess.mu.Lock()
	sess.failure = pkgError.ValidationError("pairing timed out, request a new code")
	sess.mu.Unlock()
	logrus.Warnf("[PAIRING] Pairing for %s timed out", sess.phone)
}

func (m *PairingManager) complete(sess *pairingSession) {
	exported, err := exportCredentials(sess.client.Device())
	if err != nil {
		sess.mu.Lock()
		sess.failure = pkgError.InternalServerError(fmt.Sprintf("failed to export credentials: %v", err))
		sess.mu.Unlock()
		return
	}

	sess.mu.Lock()
	sess.credentials = exported
	sess.mu.Unlock()

	// Best effort. The polling endpoint still works if this send fails.
	device := sess.client.Device()
	if device != nil && device.ID != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		msg := &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String("Your session credentials (keep them secret):\n\n" + exported),
			},
		}
		if _, err := sess.client.SendMessage(ctx, *device.ID, msg); err != nil {
			logrus.Warnf("[PAIRING] Failed to deliver credentials to %s: %v", sess.phone, err)
		}
	}

	logrus.Infof("[PAIRING] Pairing completed for %s", sess.phone)
}

func (m *PairingManager) expire(sess *pairingSession) {
	time.Sleep(pairingSessionTTL)

	m.mu.Lock()
	if current, ok := m.sessions[sess.phone]; ok && current == sess {
		delete(m.sessions, sess.phone)
	}
	m.mu.Unlock()

	m.cleanup(sess)
}

func (m *PairingManager) cleanup(sess *pairingSession) {
	sess.client.Disconnect()
	if err := os.RemoveAll(sess.dir); err != nil {
		logrus.Warnf("[PAIRING] Failed to remove pairing dir %s: %v", sess.dir, err)
	}
}

// exportCredentials serializes a paired device into the credential file
// format the vault accepts, base64-encoded.
func exportCredentials(device *store.Device) (string, error) {
	if device == nil || device.ID == nil {
		return "", fmt.Errorf("device not paired")
	}
	if device.NoiseKey == nil || device.IdentityKey == nil || device.SignedPreKey == nil {
		return "", fmt.Errorf("device key material incomplete")
	}

	enc := base64.StdEncoding.EncodeToString
	keyPair := func(kp *keys.KeyPair) map[string]string {
		return map[string]string{
			"private": enc(kp.Priv[:]),
			"public":  enc(kp.Pub[:]),
		}
	}

	blob := map[string]any{
		"creds": map[string]any{
			"noiseKey":          keyPair(device.NoiseKey),
			"signedIdentityKey": keyPair(device.IdentityKey),
			"signedPreKey": map[string]any{
				"keyPair":   keyPair(&device.SignedPreKey.KeyPair),
				"signature": enc(device.SignedPreKey.Signature[:]),
				"keyId":     device.SignedPreKey.KeyID,
			},
			"registrationId": device.RegistrationID,
			"me": map[string]string{
				"id": device.ID.String(),
			},
		},
		"keys": map[string]any{},
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
