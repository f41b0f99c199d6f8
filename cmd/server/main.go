// @title           Estudio Legal API
// @version         1.0
// @description     Case management for a law firm: staff open cases, the stage engine generates the procedural plan with fee allocations, payments gate completion, and clients follow authorized progress.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/nvaldesp/estudio-backend/internal/auth"
	"github.com/nvaldesp/estudio-backend/internal/cases"
	"github.com/nvaldesp/estudio-backend/internal/etapas"
	"github.com/nvaldesp/estudio-backend/internal/storage"
	"github.com/nvaldesp/estudio-backend/pkg/database"
	"github.com/nvaldesp/estudio-backend/pkg/models"
)

func main() {
	_ = godotenv.Load()

	db := database.Init()
	if err := db.AutoMigrate(
		&models.User{}, &models.Case{}, &models.Arancel{},
		&models.Etapa{}, &models.CaseDocument{}, &models.EtapaHistory{},
	); err != nil {
		log.Fatal("migration failed:", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Storage helper (SUPABASE_URL / SUPABASE_SERVICE_KEY / SUPABASE_BUCKET)
	sb := storage.NewSupabase()

	// Stage engine
	etapaH := etapas.NewHandler(db)

	// Cases
	caseH := cases.NewHandler(db, sb, etapaH.Service())
	api.Post("/cases", auth.RequireAuth(), auth.RequireStaff(), caseH.Create)
	api.Get("/cases/mine", auth.RequireAuth(), caseH.ListMine)
	api.Get("/cases/:id", auth.RequireAuth(), caseH.GetDetail)
	api.Get("/aranceles", auth.RequireAuth(), auth.RequireStaff(), caseH.ListAranceles)

	// Documents
	api.Post("/cases/:id/documentos", auth.RequireAuth(), caseH.UploadDocumento)
	api.Get("/documentos/:docID/signed-url", auth.RequireAuth(), caseH.SignedDownloadURL)
	api.Delete("/documentos/:docID", auth.RequireAuth(), auth.RequireStaff(), caseH.DeleteDocumento)

	// Stages
	api.Get("/cases/:id/etapas", auth.RequireAuth(), etapaH.List)
	api.Post("/cases/:id/etapas", auth.RequireAuth(), auth.RequireStaff(), etapaH.Create)
	api.Patch("/etapas/:id", auth.RequireAuth(), auth.RequireStaff(), etapaH.Update)
	api.Post("/etapas/:id/completar", auth.RequireAuth(), auth.RequireStaff(), etapaH.Complete)
	api.Delete("/etapas/:id", auth.RequireAuth(), auth.RequireStaff(), etapaH.Delete)

	// Payments
	api.Post("/etapas/:id/pagos", auth.RequireAuth(), auth.RequireStaff(), etapaH.RegisterPago)
	api.Post("/etapas/:id/pagar", auth.RequireAuth(), auth.RequireStaff(), etapaH.MarcarPagado)
	api.Put("/etapas/:id/enlace-pago", auth.RequireAuth(), auth.RequireStaff(), etapaH.SetEnlacePago)

	// Client advance gate
	api.Post("/cases/:id/avance/solicitar", auth.RequireAuth(), auth.RequireRole(string(models.RoleCliente)), etapaH.SolicitarAvance)
	api.Post("/cases/:id/avance/autorizar", auth.RequireAuth(), auth.RequireStaff(), etapaH.AutorizarAvance)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.Println("Server running on :" + port)
	log.Fatal(app.Listen(":" + port))
}
