package internal

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps is everything the HTTP routes need. Ledger and Proofs may be nil
// when MongoDB or Telegram is not configured.
type Deps struct {
	Config       *Config
	DB           DB
	Applications *ApplicationStore
	Affiliates   *AffiliateStore
	Prompter     Prompter
	Ledger       PaymentLedger
	Proofs       ProofSender
	Catalog      *Catalog
	Hub          *Hub
}

func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	api := r.Group("/api")
	{
		api.POST("/runPrompt", RunPrompt(d.Prompter, d.Ledger))
		if d.Proofs != nil {
			api.POST("/sendProof", SendProof(d.Proofs, d.Affiliates, cfg.MaxProofBytes))
		} else {
			api.POST("/sendProof", func(c *gin.Context) {
				c.JSON(200, gin.H{"ok": false, "error": "Telegram is not configured"})
			})
		}

		api.POST("/applications", SubmitApplication(d.Applications))
		api.GET("/applications/:id", GetApplication(d.Applications))
		api.PUT("/applications/:id/payment", SaveApplicationPayment(d.Applications))
		api.GET("/winners", RecentWinners(d.Applications))

		api.GET("/bundles", ListBundles(d.Catalog))
		api.GET("/bundles/:id", GetBundle(d.Catalog))

		api.POST("/affiliates/register", RegisterAffiliate(d.Affiliates))
		api.GET("/affiliates", ListAffiliates(d.Affiliates))
		api.GET("/affiliates/stream", StreamChanges(d.Hub, 25*time.Second))
		api.GET("/affiliates/:id", GetAffiliate(d.Affiliates))
		api.GET("/affiliates/:id/referrals", AffiliateReferrals(d.Affiliates))
		api.GET("/affiliates/:id/qr", AffiliateQR(d.Affiliates))

		// admin
		api.POST("/admin/login", Login(d.DB, cfg.JWTSecret, cfg.CookieSecure))
		api.POST("/admin/logout", Logout(cfg.CookieSecure))

		admin := api.Group("/admin", Auth(cfg.JWTSecret), RequireAdmin())
		{
			admin.GET("/logs", AdminLogs(d.DB))
			admin.GET("/payments", AdminPayments(d.Ledger))

			admin.GET("/applications", AdminListApplications(d.Applications))
			admin.POST("/applications/:id/approve", AdminApplicationAction(d.Applications, d.DB, OpApprove))
			admin.POST("/applications/:id/unapprove", AdminApplicationAction(d.Applications, d.DB, OpUnapprove))
			admin.POST("/applications/:id/mark-paid", AdminApplicationAction(d.Applications, d.DB, OpMarkPaid))
			admin.POST("/applications/:id/mark-unpaid", AdminApplicationAction(d.Applications, d.DB, OpMarkUnpaid))

			admin.POST("/affiliates/:id/status", AdminAffiliateStatus(d.Affiliates, d.DB, ""))
			admin.POST("/affiliates/:id/verify", AdminAffiliateStatus(d.Affiliates, d.DB, AffVerified))
			admin.POST("/affiliates/:id/reject", AdminAffiliateStatus(d.Affiliates, d.DB, AffRejected))
			admin.GET("/affiliates/:id/proofs", AdminAffiliateProofs(d.Affiliates))
		}
	}

	return r
}
