package main

import (
	"log"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"schoolfund/internal/config"
	"schoolfund/internal/handlers"
	"schoolfund/internal/middleware"
	"schoolfund/internal/notify"
	"schoolfund/internal/payfast"
	"schoolfund/internal/store"
	ws "schoolfund/internal/websocket"
)

func main() {
	log.Println("Starting school donation server...")

	// Missing merchant credentials fail here, before any donor can reach
	// the payment flow.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("cannot load config:", err)
	}

	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		log.Fatal("cannot connect to database:", err)
	}
	defer db.Close()
	log.Println("Successfully connected to PostgreSQL")

	builder, err := payfast.NewBuilder(
		cfg.PayFastMerchantID, cfg.PayFastMerchantKey,
		cfg.PayFastPassphrase, cfg.PayFastBaseURL, cfg.PublicOrigin,
	)
	if err != nil {
		log.Fatal("cannot configure payment gateway:", err)
	}

	var validator *payfast.SourceValidator
	if cfg.PayFastValidateSource {
		validator = payfast.NewSourceValidator(cfg.PayFastBaseURL)
	}

	var dispatcher notify.Dispatcher = notify.ConsoleDispatcher{}
	if cfg.SendgridAPIKey != "" {
		dispatcher = notify.NewSendgridDispatcher(cfg.SendgridAPIKey, cfg.FromEmail)
	}

	hub := ws.NewHub()
	go hub.Run()

	r := gin.Default()
	r.Use(cors.Default())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	donations := store.NewDonationStore(db)
	authHandler := handlers.NewAuthHandler(db, cfg.JWTSecret)
	staffHandler := handlers.NewStaffHandler(db)
	donationHandler := handlers.NewDonationHandler(donations, builder, cfg.PayFastPassphrase, validator, dispatcher, hub)
	wsHandler := handlers.NewWebSocketHandler(db, hub)

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(cfg.JWTSecret))
		{
			protected.GET("/me", staffHandler.GetMyProfile)
			protected.GET("/donations", donationHandler.ListDonations)
		}

		api.POST("/donate", donationHandler.CreateDonation)
		api.GET("/donate/:reference/redirect", donationHandler.RedirectToGateway)
		api.GET("/donations/:reference", donationHandler.GetDonation)
		api.POST("/webhook/payfast", donationHandler.HandlePaymentNotification)
	}

	r.GET("/ws/alerts/:secretToken", wsHandler.ServeWs)

	log.Println("Server starting on", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal("could not start server:", err)
	}
}
