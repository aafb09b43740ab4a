package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/wafleet/wafleet/core/config"
	"github.com/wafleet/wafleet/core/database"
	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainCommand "github.com/wafleet/wafleet/domains/command"
	domainGuest "github.com/wafleet/wafleet/domains/guest"
	domainHealth "github.com/wafleet/wafleet/domains/health"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	"github.com/wafleet/wafleet/infrastructure/valkey"
	"github.com/wafleet/wafleet/infrastructure/whatsapp"
	"github.com/wafleet/wafleet/pkg/msgworker"
	"github.com/wafleet/wafleet/pkg/utils"
	"github.com/wafleet/wafleet/placement"
	"github.com/wafleet/wafleet/repository"
	"github.com/wafleet/wafleet/supervisor"
	"github.com/wafleet/wafleet/tenancy"
	uiWebsocket "github.com/wafleet/wafleet/ui/websocket"
	"github.com/wafleet/wafleet/usecase"
	"github.com/wafleet/wafleet/vault"
)

var (
	appDB *gorm.DB

	valkeyClient *valkey.Client

	// Repositories
	instanceRepo *repository.InstanceGormRepository
	serverRepo   *repository.ServerGormRepository
	registrar    *repository.RegistrarGorm
	activityRepo *repository.ActivityGormRepository
	commandRepo  *repository.CommandGormRepository
	guestStore   domainGuest.SessionStore

	// Runtime
	workerPool     *msgworker.WorkerPool
	botSupervisor  *supervisor.Supervisor
	credentialsV   *vault.Vault
	placementEng   *placement.Engine
	rpcClient      *tenancy.Client
	directDB       *tenancy.DirectDB
	rpcHandler     *tenancy.Handler
	pairingManager *whatsapp.PairingManager

	// Usecases
	registrationUsecase usecase.IRegistrationUsecase
	instanceUsecase     domainInstance.IInstanceUsecase
	guestUsecase        domainGuest.IGuestUsecase
	serverUsecase       domainServer.IServerUsecase
	commandUsecase      domainCommand.ICommandUsecase
	healthUsecase       domainHealth.IHealthUsecase
)

var rootCmd = &cobra.Command{
	Use:   "wafleet",
	Short: "Multi-tenant WhatsApp bot fleet",
	Long: `Wafleet runs one tenancy of a multi-tenant WhatsApp bot fleet:
bot lifecycle supervision, fleet-wide phone placement and signed
cross-tenancy RPC against the shared database.`,
}

func init() {
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()
	cobra.OnInitialize(initApp)
}

func initFlags() {
	rootCmd.PersistentFlags().StringP(
		"port", "p", "",
		"change port number with --port <number> | example: --port=8080",
	)
	rootCmd.PersistentFlags().BoolP(
		"debug", "d", false,
		"displaying debug log with --debug <true/false> | example: --debug=true",
	)
	rootCmd.PersistentFlags().String(
		"server-name", "",
		`tenancy name inside the fleet --server-name <string> | example: --server-name="Server1"`,
	)
	_ = viper.BindPFlag("APP_PORT_FLAG", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("APP_DEBUG_FLAG", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("RUNTIME_SERVER_NAME", rootCmd.PersistentFlags().Lookup("server-name"))
}

func initApp() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("[APP] Failed to load configuration: %v", err)
	}
	if viper.GetBool("APP_DEBUG_FLAG") {
		cfg.App.Debug = true
	}
	if port := viper.GetString("APP_PORT_FLAG"); port != "" {
		cfg.App.Port = port
	}
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// Tenancy name is fixed for the process lifetime.
	if cfg.Tenancy.Name == "" {
		cfg.Tenancy.Name = utils.GetPersistentServerID("", cfg.Paths.Storages)
	}
	if cfg.Tenancy.Name == "" {
		logrus.Fatalln("[APP] Could not resolve a tenancy name; set SERVER_NAME")
	}
	if cfg.Security.JWTSecret == "" {
		logrus.Fatalln("[APP] JWT_SECRET is required")
	}

	for _, dir := range []string{cfg.Paths.Storages, cfg.Paths.AuthDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Fatalf("[APP] Failed to create %s: %v", dir, err)
		}
	}

	ctx := context.Background()

	appDB, err = database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[APP] Database connection failed: %v", err)
	}

	tenancyName := cfg.Tenancy.Name

	instanceRepo = repository.NewInstanceGormRepository(appDB, tenancyName)
	serverRepo = repository.NewServerGormRepository(appDB)
	registrar = repository.NewRegistrarGorm(appDB)
	activityRepo = repository.NewActivityGormRepository(appDB, tenancyName)
	commandRepo = repository.NewCommandGormRepository(appDB, tenancyName)
	for name, migrate := range map[string]func() error{
		"instances":  instanceRepo.AutoMigrate,
		"servers":    serverRepo.AutoMigrate,
		"activities": activityRepo.AutoMigrate,
		"commands":   commandRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logrus.Fatalf("[APP] Migration of %s failed: %v", name, err)
		}
	}

	seedLocalServer(ctx, cfg)

	if cfg.Database.ValkeyEnabled {
		valkeyClient, err = valkey.NewClient(valkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			logrus.Fatalf("[APP] Valkey connection failed: %v", err)
		}
		guestStore = repository.NewValkeyGuestStore(valkeyClient)
		uiWebsocket.SetValkeyClient(valkeyClient, tenancyName)
	} else {
		guestStore = repository.NewMemoryGuestStore()
	}

	workerPool = msgworker.NewWorkerPool(0, 0)
	workerPool.Start(ctx)

	authDir := cfg.Paths.AuthDir
	credentialsV = vault.NewVault(instanceRepo, serverRepo, authDir, cfg.Whatsapp.MaxCredentialBytes)
	botSupervisor = supervisor.New(instanceRepo, activityRepo, registrar, workerPool, whatsapp.NewSessionClient, uiWebsocket.Broadcaster(), authDir)
	placementEng = placement.NewEngine(serverRepo, registrar, tenancyName)
	rpcClient = tenancy.NewClient(tenancyName, serverRepo)
	directDB = tenancy.NewDirectDB(tenancyName, instanceRepo, activityRepo)
	rpcHandler = tenancy.NewHandler(tenancyName, serverRepo, instanceRepo, registrar, activityRepo, botSupervisor, credentialsV)
	pairingManager = whatsapp.NewPairingManager(filepath.Join(cfg.Paths.Storages, "pairing"), whatsapp.NewSessionClient)
	sessionVerifier := whatsapp.NewSessionVerifier(filepath.Join(cfg.Paths.Storages, "verify"), whatsapp.NewSessionClient)

	registrationUsecase = usecase.NewRegistrationUsecase(instanceRepo, serverRepo, placementEng, credentialsV, botSupervisor, activityRepo, tenancyName)
	instanceUsecase = usecase.NewInstanceUsecase(instanceRepo, registrar, placementEng, botSupervisor, activityRepo, credentialsV, rpcClient, tenancyName)
	guestUsecase = usecase.NewGuestUsecase(instanceRepo, serverRepo, guestStore, botSupervisor, credentialsV, directDB, rpcClient, sessionVerifier, activityRepo, tenancyName, cfg.Security.JWTSecret)
	serverUsecase = usecase.NewServerUsecase(serverRepo, tenancyName)
	commandUsecase = usecase.NewCommandUsecase(commandRepo)
	healthUsecase = usecase.NewHealthUsecase(appDB, instanceRepo, botSupervisor, tenancyName)

	logrus.Infof("[APP] Tenancy %s initialized", tenancyName)
}

// seedLocalServer makes sure the shared catalog has a row for this tenancy.
// Existing rows keep their admin-edited values.
func seedLocalServer(ctx context.Context, cfg *config.Config) {
	if srv, err := serverRepo.GetServer(ctx, cfg.Tenancy.Name); err == nil && srv != nil {
		return
	}

	srv := &domainServer.Server{
		Name:        cfg.Tenancy.Name,
		MaxBotCount: cfg.Tenancy.MaxBotCount,
		Status:      "active",
		Description: cfg.Tenancy.Description,
		URL:         cfg.Tenancy.URL,
	}
	if err := serverRepo.UpsertServer(ctx, srv); err != nil {
		logrus.Fatalf("[APP] Failed to seed local server row: %v", err)
	}
	logrus.Infof("[APP] Registered %s in the server catalog (capacity %d)", srv.Name, srv.MaxBotCount)

	_ = activityRepo.Log(ctx, &domainActivity.Activity{
		Type:        domainActivity.TypeStartup,
		Description: "server " + srv.Name + " joined the fleet",
	})
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp performs a clean shutdown of the supervisor, worker pool and
// external connections.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	if botSupervisor != nil {
		botSupervisor.Shutdown()
	}
	if workerPool != nil {
		workerPool.Stop()
	}
	if valkeyClient != nil {
		valkeyClient.Close()
	}
	if appDB != nil {
		if sqlDB, err := appDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
