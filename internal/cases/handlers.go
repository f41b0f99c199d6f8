package cases

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nvaldesp/estudio-backend/internal/auth"
	"github.com/nvaldesp/estudio-backend/internal/etapas"
	"github.com/nvaldesp/estudio-backend/internal/storage"
	"github.com/nvaldesp/estudio-backend/pkg/apperr"
	"github.com/nvaldesp/estudio-backend/pkg/models"
	"github.com/nvaldesp/estudio-backend/pkg/sanitize"
	"github.com/nvaldesp/estudio-backend/pkg/validation"
)

// ===== DTOs =====

type CreateCaseRequest struct {
	Caratula        string   `json:"caratula" validate:"required,max=160"`
	Materia         string   `json:"materia" validate:"required,materia"`
	Descripcion     string   `json:"descripcion" validate:"max=2000"`
	ClientID        string   `json:"client_id" validate:"required,uuid4"`
	FechaInicio     string   `json:"fecha_inicio" validate:"omitempty,datetime=2006-01-02"`
	ModalidadCobro  string   `json:"modalidad_cobro" validate:"omitempty,oneof=anticipado cuotas exito"`
	MonedaHonorario string   `json:"moneda_honorario" validate:"omitempty,max=10"`
	HonorarioTotal  *float64 `json:"honorario_total" validate:"omitempty,gte=0"`
	ArancelID       string   `json:"arancel_id" validate:"omitempty,uuid4"`
}

type CaseListItem struct {
	ID                uuid.UUID `json:"id"`
	Caratula          string    `json:"caratula"`
	Materia           string    `json:"materia"`
	Estado            string    `json:"estado"`
	Descripcion       string    `json:"descripcion"`
	CreatedAt         time.Time `json:"created_at"`
	EtapasTotal       int64     `json:"etapas_total"`
	EtapasCompletadas int64     `json:"etapas_completadas"`
}

type PageCases struct {
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
	Total    int64          `json:"total"`
	Pages    int            `json:"pages"`
	Items    []CaseListItem `json:"items"`
}

type Handler struct {
	db  *gorm.DB
	sb  *storage.Supabase
	svc *etapas.Service
}

func NewHandler(db *gorm.DB, sb *storage.Supabase, svc *etapas.Service) *Handler {
	return &Handler{db: db, sb: sb, svc: svc}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

func actorFrom(c *fiber.Ctx) etapas.Actor {
	id, _ := uuid.Parse(auth.MustUserID(c))
	return etapas.Actor{ID: id, Role: models.Role(auth.MustRole(c))}
}

// Create Case godoc
// @Summary      Create case
// @Description  Staff opens a case; the initial stage set is generated right after the row is created
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateCaseRequest  true  "Case payload"
// @Success      201  {object}  map[string]string  "id"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateCaseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	// Validation (Laravel-style response)
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	actor := actorFrom(c)
	clientID, _ := uuid.Parse(in.ClientID)

	cs := models.Case{
		ClientID:        clientID,
		LawyerID:        actor.ID,
		Caratula:        strings.TrimSpace(in.Caratula),
		Materia:         strings.TrimSpace(in.Materia),
		Descripcion:     strings.TrimSpace(in.Descripcion),
		Estado:          models.CaseActiva,
		ModalidadCobro:  models.ModoAnticipado,
		MonedaHonorario: models.MonedaUF,
		HonorarioTotal:  in.HonorarioTotal,
	}
	if in.ModalidadCobro != "" {
		cs.ModalidadCobro = models.FeeMode(in.ModalidadCobro)
	}
	if in.MonedaHonorario != "" {
		cs.MonedaHonorario = in.MonedaHonorario
	}
	if in.FechaInicio != "" {
		t, _ := time.Parse("2006-01-02", in.FechaInicio)
		cs.FechaInicio = &t
	}
	if in.ArancelID != "" {
		aid, _ := uuid.Parse(in.ArancelID)
		cs.ArancelID = &aid
	}

	if err := h.db.Create(&cs).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	// Generate the stage set exactly once, right after the case row is
	// durable. The service refuses a second generation for the same case.
	if err := h.svc.GenerateInitialStages(c.Context(), actor, cs.ID); err != nil {
		return apperr.ToFiber(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": cs.ID})
}

// List My Cases godoc
// @Summary      List my cases
// @Description  Cliente lists their own cases, abogado their assigned ones, admin all (paginated)
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  PageCases
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	actor := actorFrom(c)
	page, size := parsePage(c)

	base := h.db.Model(&models.Case{})
	switch actor.Role {
	case models.RoleCliente:
		base = base.Where("client_id = ?", actor.ID)
	case models.RoleAbogado:
		base = base.Where("lawyer_id = ?", actor.ID)
	}

	// Total count
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	// Data + stage progress counts
	q := h.db.
		Table("cases").
		Select(`cases.id, cases.caratula, cases.materia, cases.estado, cases.descripcion, cases.created_at,
          COUNT(etapas.id) AS etapas_total,
          COUNT(etapas.id) FILTER (WHERE etapas.estado = 'completado') AS etapas_completadas`).
		Joins("LEFT JOIN etapas ON etapas.case_id = cases.id").
		Group("cases.id").
		Order("cases.created_at DESC").
		Offset((page - 1) * size).Limit(size)
	switch actor.Role {
	case models.RoleCliente:
		q = q.Where("cases.client_id = ?", actor.ID)
	case models.RoleAbogado:
		q = q.Where("cases.lawyer_id = ?", actor.ID)
	}

	items := make([]CaseListItem, 0, size)
	if err := q.Scan(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	if actor.Role == models.RoleCliente {
		for i := range items {
			items[i].Descripcion = sanitize.Summary(items[i].Descripcion, 240)
		}
	}

	return c.JSON(PageCases{
		Page:     page,
		PageSize: size,
		Total:    total,
		Pages:    int(math.Ceil(float64(total) / float64(size))),
		Items:    items,
	})
}

type caseDetailResponse struct {
	models.Case
	Etapas []models.Etapa `json:"etapas"`
}

// Get case detail godoc
// @Summary      Case detail
// @Description  Case with documents and role-filtered stages
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "case id (uuid)"
// @Success      200  {object}  caseDetailResponse
// @Failure      401  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id} [get]
func (h *Handler) GetDetail(c *fiber.Ctx) error {
	actor := actorFrom(c)
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var cs models.Case
	q := h.db.Where("id = ?", id)
	if actor.Role == models.RoleCliente {
		q = q.Where("client_id = ?", actor.ID)
	}
	if err := q.
		Preload("Documentos", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&cs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	// Stages go through the service so the client visibility gate applies.
	stages, err := h.svc.ListStages(c.Context(), actor, cs.ID)
	if err != nil {
		return apperr.ToFiber(err)
	}
	if stages == nil {
		stages = []models.Etapa{}
	}
	cs.Etapas = nil
	if cs.Documentos == nil {
		cs.Documentos = []models.CaseDocument{}
	}

	return c.JSON(caseDetailResponse{Case: cs, Etapas: stages})
}

// List Aranceles godoc
// @Summary      List fee schedule
// @Description  Staff lists the arancel entries cases may reference for their total fee
// @Tags         aranceles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}  models.Arancel
// @Router       /aranceles [get]
func (h *Handler) ListAranceles(c *fiber.Ctx) error {
	var items []models.Arancel
	if err := h.db.Order("nombre ASC").Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if items == nil {
		items = []models.Arancel{}
	}
	return c.JSON(items)
}
