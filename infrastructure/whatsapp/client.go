package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/wafleet/wafleet/core/config"
)

// SessionClient is the slice of the whatsmeow client the worker and pairing
// flows use. Narrowed to an interface so session logic is testable without a
// live socket.
type SessionClient interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	RemoveEventHandler(id uint32) bool
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	PairPhone(ctx context.Context, phone string, showPushNotification bool, clientType whatsmeow.PairClientType, clientDisplayName string) (string, error)
	Device() *store.Device
}

// ClientFactory builds a SessionClient backed by the session store at dir.
type ClientFactory func(ctx context.Context, botID, dir string) (SessionClient, error)

type meowClient struct {
	*whatsmeow.Client
}

func (c *meowClient) Device() *store.Device {
	return c.Store
}

// NewSessionClient is the production ClientFactory. It opens (or creates)
// the per-bot sqlite session store and binds a whatsmeow client to its
// first device.
func NewSessionClient(ctx context.Context, botID, dir string) (SessionClient, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}

	logLevel := "ERROR"
	osName := "Linux"
	if config.Global != nil {
		logLevel = config.Global.Whatsapp.LogLevel
		if config.Global.Whatsapp.OS != "" {
			osName = config.Global.Whatsapp.OS
		}
	}

	tag := botID
	if len(tag) > 8 {
		tag = tag[:8]
	}

	dbPath := filepath.Join(dir, "session.db") + "?_foreign_keys=on"
	dbLog := waLog.Stdout("DB-"+tag, logLevel, true)
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+dbPath, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to init session db: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if device == nil {
		device = container.NewDevice()
	}

	chromePlatform := waCompanionReg.DeviceProps_CHROME
	store.DeviceProps.PlatformType = &chromePlatform
	store.DeviceProps.Os = &osName

	clientLog := waLog.Stdout("Client-"+tag, logLevel, true)
	client := whatsmeow.NewClient(device, clientLog)
	client.EnableAutoReconnect = false // the worker owns reconnect policy
	client.AutoTrustIdentity = true

	return &meowClient{Client: client}, nil
}
