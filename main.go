package main

import (
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"

	"seraph/config"
	"seraph/feed"
	"seraph/geocode"
	"seraph/handlers"
	"seraph/media"
	"seraph/middleware"
	"seraph/rabbitmq"
	"seraph/search"
	"seraph/services"
	"seraph/sms"
	"seraph/store"
	ws "seraph/websocket"
)

func main() {
	cfg := config.Load()

	st, err := setupStore(cfg)
	if err != nil {
		log.Fatalf("Failed to set up document store: %v", err)
	}

	searchIndex, err := search.Open(cfg.SearchIndexPath)
	if err != nil {
		log.Fatalf("Failed to open search index: %v", err)
	}
	defer searchIndex.Close()

	reportService := services.NewReportService(st).WithSearch(searchIndex)

	mediaStore, err := media.NewStorage(
		cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Warnf("Object storage unavailable, media disabled: %v", err)
	} else {
		reportService.WithMedia(mediaStore)
	}

	if cfg.GeocodeAPIKey != "" {
		reportService.WithGeocoder(geocode.NewClient(cfg.GeocodeAPIKey))
	}

	publisher, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.EventExchange)
	if err != nil {
		log.Warnf("RabbitMQ unavailable, report events disabled: %v", err)
	} else {
		reportService.WithEvents(publisher)
		defer publisher.Close()
	}

	hub := ws.NewHub()
	hub.SetRoomSource(func(reportID string) func() {
		stream := feed.OpenComments(st, reportID, hub.BroadcastComment)
		return stream.Dispose
	})
	go hub.Run()

	var twilioClient *sms.TwilioClient
	if cfg.TwilioAccountSID != "" {
		twilioClient = sms.NewTwilioClient(
			cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.TwilioVerifySID)
	}

	var verifier sms.Verifier
	if twilioClient != nil {
		verifier = twilioClient
	}
	userService := services.NewUserService(st, verifier)

	if twilioClient != nil && publisher != nil {
		startAlertWorker(cfg, st, twilioClient)
	}

	router := setupRouter(cfg, st, reportService, userService, searchIndex, hub)

	log.Infof("Seraph service starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func setupStore(cfg *config.Config) (store.DocumentStore, error) {
	if cfg.StoreBackend == "memory" {
		log.Warn("Using in-memory store, data will not survive restarts")
		return store.NewMemoryStore(), nil
	}
	return store.NewMySQLStore(cfg.DSN())
}

func startAlertWorker(cfg *config.Config, st store.DocumentStore, sender sms.Sender) {
	subscriber, err := rabbitmq.NewSubscriber(cfg.AMQPURL, cfg.EventExchange, cfg.ReportsQueue)
	if err != nil {
		log.Warnf("Failed to start alert worker: %v", err)
		return
	}

	alerts := services.NewAlertService(st, sender, cfg.DefaultRadiusMeters)
	err = subscriber.Start(map[string]rabbitmq.CallbackFunc{
		rabbitmq.RoutingKeyReportPublished: alerts.HandleReportPublished,
	})
	if err != nil {
		log.Warnf("Failed to start alert worker: %v", err)
	}
}

func setupRouter(
	cfg *config.Config,
	st store.DocumentStore,
	reports *services.ReportService,
	users *services.UserService,
	searchIndex *search.Index,
	hub *ws.Hub,
) *gin.Engine {
	router := gin.Default()
	router.SetTrustedProxies(cfg.TrustedProxies)
	router.Use(middleware.CORSMiddleware())

	h := handlers.NewHandlers(reports, users, searchIndex, cfg.DefaultRadiusMeters, cfg.MaxRadiusMeters)
	wsHandler := handlers.NewWebSocketHandler(hub, st, cfg.DefaultRadiusMeters, cfg.MaxRadiusMeters)

	router.GET("/health", h.HealthCheck)

	api := router.Group("/api/v3")
	{
		api.GET("/feed", h.Feed)
		api.GET("/feed/geojson", h.FeedGeoJSON)
		api.GET("/search", h.Search)
		api.GET("/reports/:id", h.GetReport)
		api.GET("/reports/:id/comments", h.ListComments)

		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(cfg.JWTSecret))
		{
			protected.POST("/reports", h.CreateReport)
			protected.PUT("/reports/:id", h.UpdateReport)
			protected.DELETE("/reports/:id", h.DeleteReport)
			protected.POST("/reports/:id/vote", h.VoteReport)
			protected.POST("/reports/:id/comments", h.CreateComment)

			protected.GET("/profile", h.GetProfile)
			protected.PUT("/profile", h.UpdateProfile)
			protected.POST("/verify/start", h.StartVerification)
			protected.POST("/verify/check", h.CheckVerification)
		}
	}

	router.GET("/ws/feed", wsHandler.LiveFeed)
	router.GET("/ws/reports/:id/comments", wsHandler.WatchComments)
	router.GET("/ws/stats", wsHandler.WebSocketStats)

	return router
}
