package whatsapp

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	domainInstance "github.com/wafleet/wafleet/domains/instance"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
)

const (
	reconnectBase   = 2 * time.Second
	reconnectCap    = 60 * time.Second
	reconnectBudget = 5
)

// StatusSink receives worker status transitions. reason is non-empty only
// for error transitions. credentialsRevoked is true only when the session
// was invalidated upstream (401 logged-out); transient faults such as an
// exhausted reconnect budget keep it false so the bot stays resumable.
type StatusSink func(botID string, status domainInstance.Status, reason string, credentialsRevoked bool)

// Worker owns one WhatsApp session. Faults stay inside the worker and
// surface through the sink; a worker never panics into its supervisor.
type Worker struct {
	botID   string
	phone   string
	dir     string
	factory ClientFactory
	sink    StatusSink

	backoffBase   time.Duration
	backoffCap    time.Duration
	backoffBudget int

	mu            sync.RWMutex
	client        SessionClient
	handlerID     uint32
	status        domainInstance.Status
	invalidReason string
	stopping      bool
	reconnecting  bool
	lastActivity  time.Time
}

func NewWorker(botID, phone, dir string, factory ClientFactory, sink StatusSink) *Worker {
	if factory == nil {
		factory = NewSessionClient
	}
	return &Worker{
		botID:         botID,
		phone:         phone,
		dir:           dir,
		factory:       factory,
		sink:          sink,
		status:        domainInstance.StatusOffline,
		backoffBase:   reconnectBase,
		backoffCap:    reconnectCap,
		backoffBudget: reconnectBudget,
	}
}

// Start connects the session, restoring credentials from the worker's
// session dir. The transition to online happens on the Connected event, not
// here.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.client != nil {
		client := w.client
		w.mu.Unlock()
		if !client.IsConnected() {
			return client.Connect()
		}
		return nil
	}
	w.stopping = false
	w.mu.Unlock()

	w.setStatus(domainInstance.StatusLoading, "")

	client, err := w.factory(ctx, w.botID, w.dir)
	if err != nil {
		w.setStatus(domainInstance.StatusError, err.Error())
		return pkgError.InternalServerError(fmt.Sprintf("failed to build session client: %v", err))
	}

	handlerID := client.AddEventHandler(w.handleEvent)

	w.mu.Lock()
	w.client = client
	w.handlerID = handlerID
	w.mu.Unlock()

	if err := client.Connect(); err != nil {
		w.setStatus(domainInstance.StatusError, err.Error())
		return pkgError.InternalServerError(fmt.Sprintf("failed to connect: %v", err))
	}
	return nil
}

// Stop closes the session. With preserveCredentials=false the on-disk
// session dir is purged as well, so the next Start requires a fresh pairing.
func (w *Worker) Stop(preserveCredentials bool) error {
	w.mu.Lock()
	w.stopping = true
	client := w.client
	handlerID := w.handlerID
	w.client = nil
	w.handlerID = 0
	w.mu.Unlock()

	if client != nil {
		if handlerID != 0 {
			client.RemoveEventHandler(handlerID)
		}
		client.Disconnect()
	}

	w.setStatus(domainInstance.StatusOffline, "")

	if !preserveCredentials {
		if err := os.RemoveAll(w.dir); err != nil {
			logrus.Warnf("[WORKER] Failed to purge session dir for bot %s: %v", w.botID, err)
			return err
		}
	}
	return nil
}

// SendDirectMessage sends a text to a JID through this bot. Best-effort:
// fails fast when the session is not online.
func (w *Worker) SendDirectMessage(ctx context.Context, jid, text string) error {
	w.mu.RLock()
	client := w.client
	status := w.status
	w.mu.RUnlock()

	if client == nil || status != domainInstance.StatusOnline {
		return pkgError.ValidationError("bot is not online")
	}

	target, err := types.ParseJID(utils.PhoneToJID(jid))
	if err != nil {
		return pkgError.ValidationError(fmt.Sprintf("invalid JID: %v", err))
	}

	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
		},
	}
	if _, err := client.SendMessage(ctx, target, msg); err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to send message: %v", err))
	}

	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
	return nil
}

func (w *Worker) Status() domainInstance.Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Worker) InvalidReason() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.invalidReason
}

func (w *Worker) LastActivity() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastActivity
}

func (w *Worker) BotID() string {
	return w.botID
}

func (w *Worker) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		w.mu.Lock()
		w.lastActivity = time.Now()
		w.mu.Unlock()
		w.setStatus(domainInstance.StatusOnline, "")
	case *events.LoggedOut:
		// Credentials revoked upstream. Reconnecting would loop on 401.
		logrus.Warnf("[WORKER] Bot %s logged out (reason: %v)", w.botID, e.Reason)
		w.transition(domainInstance.StatusError, fmt.Sprintf("logged out: %v", e.Reason), true)
	case *events.StreamReplaced:
		w.setStatus(domainInstance.StatusError, "session taken over by another connection")
	case *events.Disconnected:
		w.onDisconnected()
	case *events.Message:
		w.mu.Lock()
		w.lastActivity = time.Now()
		w.mu.Unlock()
	}
}

func (w *Worker) onDisconnected() {
	w.mu.Lock()
	if w.stopping || w.reconnecting || w.status == domainInstance.StatusError {
		w.mu.Unlock()
		return
	}
	w.reconnecting = true
	w.mu.Unlock()

	w.setStatus(domainInstance.StatusLoading, "")
	go w.reconnectLoop()
}

// reconnectLoop retries with bounded exponential backoff. Exhausting the
// budget parks the worker in error until an operator restarts it.
func (w *Worker) reconnectLoop() {
	defer func() {
		w.mu.Lock()
		w.reconnecting = false
		w.mu.Unlock()
	}()

	delay := w.backoffBase
	for attempt := 1; attempt <= w.backoffBudget; attempt++ {
		time.Sleep(delay)

		w.mu.RLock()
		client := w.client
		stopping := w.stopping
		status := w.status
		w.mu.RUnlock()

		if stopping || client == nil || status == domainInstance.StatusError {
			return
		}
		if client.IsConnected() {
			return
		}

		logrus.Infof("[WORKER] Reconnect attempt %d/%d for bot %s", attempt, w.backoffBudget, w.botID)
		if err := client.Connect(); err == nil {
			return
		}

		delay *= 2
		if delay > w.backoffCap {
			delay = w.backoffCap
		}
	}

	w.setStatus(domainInstance.StatusError, fmt.Sprintf("reconnect failed after %d attempts", w.backoffBudget))
}

func (w *Worker) setStatus(status domainInstance.Status, reason string) {
	w.transition(status, reason, false)
}

func (w *Worker) transition(status domainInstance.Status, reason string, credentialsRevoked bool) {
	w.mu.Lock()
	if w.status == status && w.invalidReason == reason {
		w.mu.Unlock()
		return
	}
	w.status = status
	w.invalidReason = reason
	sink := w.sink
	w.mu.Unlock()

	if sink != nil {
		sink(w.botID, status, reason, credentialsRevoked)
	}
}
