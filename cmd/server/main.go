package main

import (
	"context"
	"log"
	"time"

	"github.com/haatos/conveyor/internal"
	"github.com/haatos/conveyor/internal/handler"
	"github.com/haatos/conveyor/internal/scm"
	"github.com/haatos/conveyor/internal/security"
	"github.com/haatos/conveyor/internal/service"
	"github.com/haatos/conveyor/internal/settings"
	"github.com/haatos/conveyor/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "modernc.org/sqlite"
)

func main() {
	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()
	internal.InitializeConfiguration()
	tokenSecret := security.NewTokenSecret()
	encryptionKey := security.NewEncryptionKey()

	rdb := store.InitDatabase(true)
	defer rdb.Close()
	rwdb := store.InitDatabase(false)
	defer rwdb.Close()
	dialect := "sqlite"
	if settings.Settings.DriverName() == "pgx" {
		dialect = "postgres"
	}
	store.RunMigrations(rwdb, dialect)

	agentStore := store.NewAgentSQLiteStore(rdb, rwdb)
	materialStore := store.NewMaterialSQLiteStore(rdb, rwdb)
	instanceStore := store.NewInstanceSQLiteStore(rdb, rwdb)

	registrySvc := service.NewRegistryService(
		agentStore,
		security.NewTokenService(tokenSecret),
		settings.Settings.AutoRegisterKey,
		settings.Settings.AllowLocalAutoRegister,
		time.Duration(internal.Config.LostContactAfterSeconds),
		time.Duration(internal.Config.MissingAfterSeconds),
	)

	var plugins *scm.PluginManifest
	if settings.Settings.PluginManifestPath != "" {
		var err error
		plugins, err = scm.LoadPluginManifest(settings.Settings.PluginManifestPath)
		if err != nil {
			log.Fatal("err loading plugin manifest: ", err)
		}
	}
	healthSvc := service.NewHealthService()
	updateSvc := service.NewMaterialUpdateService(
		materialStore,
		instanceStore,
		scm.NewFactory(plugins),
		service.NewFlyweights(internal.Config.FlyweightRoot),
		healthSvc,
		security.NewAESEncrypter(encryptionKey),
		internal.Config.DependencyPollPageSize,
	)

	timelineSvc := service.NewTimelineService(instanceStore)
	if err := timelineSvc.UpdateOnInit(context.Background()); err != nil {
		log.Fatal("err rebuilding pipeline timelines: ", err)
	}

	scheduler := service.NewScheduler()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Println("err shutting down scheduler:", err)
		}
	}()
	service.ScheduleBackgroundJobs(
		scheduler,
		updateSvc,
		service.NewAgentMonitor(registrySvc),
		time.Duration(internal.Config.MaterialPollSeconds),
		time.Duration(internal.Config.LostContactAfterSeconds)/2,
	)
	scheduler.Start()

	e := setupEcho()
	setupRoutes(
		e,
		handler.NewAgentHandler(registrySvc),
		handler.NewMaterialHandler(updateSvc, healthSvc, materialStore),
		handler.NewTimelineHandler(timelineSvc),
	)

	internal.GracefulShutdown(e, settings.Settings.Port)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(internal.GetCORSConfig()))
	return e
}

func setupRoutes(
	e *echo.Echo,
	agents *handler.AgentHandler,
	materials *handler.MaterialHandler,
	timeline *handler.TimelineHandler,
) {
	// Agent-facing endpoints share a rate limit so a misbehaving fleet
	// cannot starve the admin API.
	agentAPI := e.Group("/api/agents", middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()))
	agentAPI.POST("/token", agents.PostToken)
	agentAPI.POST("/register", agents.PostRegister)
	agentAPI.POST("/:uuid/heartbeat", agents.PostHeartbeat)

	e.GET("/api/agents", agents.GetAgents)
	e.GET("/api/agents/:uuid", agents.GetAgent)
	e.POST("/api/agents/:uuid/enable", agents.PostEnableAgent)
	e.POST("/api/agents/:uuid/disable", agents.PostDisableAgent)
	e.POST("/api/agents/:uuid/deny", agents.PostDenyAgent)
	e.POST("/api/agents/:uuid/cancel-build", agents.PostCancelBuild)
	e.PATCH("/api/agents/:uuid/tags", agents.PatchAgentTags)
	e.DELETE("/api/agents/:uuid", agents.DeleteAgent)

	e.POST("/api/materials/poll", materials.PostPoll)
	e.POST("/api/materials/in-progress", materials.PostInProgress)
	e.GET("/api/materials", materials.GetMaterials)
	e.GET("/api/materials/:fingerprint/modifications", materials.GetModifications)
	e.GET("/api/materials/health", materials.GetHealth)

	e.GET("/api/pipelines/:name/timeline", timeline.GetTimeline)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
