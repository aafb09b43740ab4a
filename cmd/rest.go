package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wafleet/wafleet/core/config"
	"github.com/wafleet/wafleet/ui/rest"
	"github.com/wafleet/wafleet/ui/rest/middleware"
	"github.com/wafleet/wafleet/ui/websocket"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Run the tenancy HTTP server",
	Long:  `Serves the admin dashboard API, the guest self-service surface, the public registration endpoints and the signed cross-tenancy RPC plane.`,
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	cfg := config.Global

	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		BodyLimit:               int(cfg.Whatsapp.MaxCredentialBytes) * 2,
		Network:                 "tcp",
		AppName:                 "Wafleet " + cfg.App.Version,
		ServerHeader:            "Hidden",
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedHost
	}

	app := fiber.New(fiberConfig)

	app.Use(requestid.New())

	origins := strings.Join(cfg.App.CorsAllowedOrigins, ", ")
	if !strings.Contains(origins, cfg.App.BaseUrl) {
		origins += ", " + cfg.App.BaseUrl
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Source-Server, X-Target-Server, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if cfg.App.Debug {
		app.Use(logger.New())
	}

	apiGroup := app.Group(cfg.App.BasePath + "/api")

	// Public surface
	rest.InitRestAuth(apiGroup, cfg.Security.AdminUsername, cfg.Security.AdminPassword, cfg.Security.JWTSecret)
	rest.InitRestHealth(apiGroup, healthUsecase)
	rest.InitRestRegister(apiGroup, registrationUsecase, credentialsV, serverRepo, cfg.Tenancy.Name)
	rest.InitRestPairing(apiGroup, pairingManager)

	// Guest surface: public auth endpoints + token-guarded self service
	guestGroup := apiGroup.Group("/guest/bot", middleware.GuestAuth(guestUsecase))
	rest.InitRestGuest(apiGroup, guestGroup, guestUsecase, instanceUsecase, serverRepo, directDB, rpcClient, cfg.Tenancy.Name)

	// Admin surface
	adminGroup := apiGroup.Group("/admin", middleware.AdminAuth(cfg.Security.JWTSecret))
	rest.InitRestInstance(adminGroup, instanceUsecase, activityRepo)
	rest.InitRestServer(adminGroup, serverUsecase)
	rest.InitRestCommand(adminGroup, commandUsecase)

	// Cross-tenancy RPC plane, authenticated by signed peer tokens.
	rpcHandler.Register(app)

	// Realtime push
	go websocket.RunHub()
	websocket.RegisterRoutes(app)

	// Resume approved bots in the background so startup stays fast.
	go func() {
		if err := botSupervisor.ResumeAll(context.Background()); err != nil {
			logrus.Errorf("[APP] Resume on startup failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Termination signal received, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
		StopApp()
	}()

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Fatalf("[REST] Server stopped: %v", err)
	}
}
