package etapas

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nvaldesp/estudio-backend/internal/auth"
	"github.com/nvaldesp/estudio-backend/pkg/apperr"
	"github.com/nvaldesp/estudio-backend/pkg/models"
	"github.com/nvaldesp/estudio-backend/pkg/validation"
)

// Handler exposes the stage engine over HTTP. It stays thin: parsing,
// validation and status mapping; the rules live in Service.
type Handler struct {
	svc *Service
}

func NewHandler(db *gorm.DB) *Handler { return &Handler{svc: NewService(db)} }

// Service returns the underlying stage service, for callers (case
// creation) that need the library-level contract directly.
func (h *Handler) Service() *Service { return h.svc }

func actorFrom(c *fiber.Ctx) Actor {
	id, _ := uuid.Parse(auth.MustUserID(c))
	return Actor{ID: id, Role: models.Role(auth.MustRole(c))}
}

func parseUUIDParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

/* ================================ DTOs ================================= */

type CreateEtapaRequest struct {
	Nombre          string   `json:"etapa" validate:"required,max=120"`
	Descripcion     string   `json:"descripcion" validate:"max=2000"`
	Orden           int      `json:"orden" validate:"omitempty,gte=1"`
	EsPublica       *bool    `json:"es_publica"`
	FechaProgramada string   `json:"fecha_programada" validate:"omitempty,datetime=2006-01-02"`
	ResponsableID   string   `json:"responsable_id" validate:"omitempty,uuid4"`
	RequierePago    bool     `json:"requiere_pago"`
	CostoUF         *float64 `json:"costo_uf" validate:"omitempty,gte=0"`
	EnlacePago      string   `json:"enlace_pago" validate:"omitempty,url,max=500"`
	NotasPago       string   `json:"notas_pago" validate:"max=2000"`
}

type UpdateEtapaRequest struct {
	Nombre          *string  `json:"etapa" validate:"omitempty,max=120"`
	Descripcion     *string  `json:"descripcion" validate:"omitempty,max=2000"`
	EsPublica       *bool    `json:"es_publica"`
	FechaProgramada *string  `json:"fecha_programada" validate:"omitempty,datetime=2006-01-02"`
	ResponsableID   *string  `json:"responsable_id" validate:"omitempty,uuid4"`
	CostoUF         *float64 `json:"costo_uf" validate:"omitempty,gte=0"`
	EnlacePago      *string  `json:"enlace_pago" validate:"omitempty,max=500"`
	NotasPago       *string  `json:"notas_pago" validate:"omitempty,max=2000"`
	Estado          *string  `json:"estado" validate:"omitempty,oneof=pendiente en_proceso completado"`
	EstadoPago      *string  `json:"estado_pago" validate:"omitempty,oneof=pendiente solicitado en_proceso parcial pagado vencido"`
}

type RegistrarPagoRequest struct {
	MontoUF *float64 `json:"monto_uf" validate:"required"`
}

type MarcarPagadoRequest struct {
	Confirmar bool `json:"confirmar"`
}

type EnlacePagoRequest struct {
	EnlacePago string `json:"enlace_pago" validate:"omitempty,max=500"`
}

type AvanceRequest struct {
	Orden int `json:"orden" validate:"required,gte=1"`
}

/* =============================== Routes ================================= */

// List Stages godoc
// @Summary      List case stages
// @Description  Stages ordered by orden; client viewers only see public stages within the authorized advance
// @Tags         etapas
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      200  {array}   models.Etapa
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/etapas [get]
func (h *Handler) List(c *fiber.Ctx) error {
	caseID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	stages, err := h.svc.ListStages(c.Context(), actorFrom(c), caseID)
	if err != nil {
		return apperr.ToFiber(err)
	}
	if stages == nil {
		stages = []models.Etapa{}
	}
	return c.JSON(stages)
}

// Create Stage godoc
// @Summary      Create stage
// @Description  Staff adds a stage to a case (outside the generated set)
// @Tags         etapas
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string              true  "case id (uuid)"
// @Param        payload  body  CreateEtapaRequest  true  "Stage payload"
// @Success      201  {object}  models.Etapa
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /cases/{id}/etapas [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	caseID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in CreateEtapaRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	svcIn := CreateStageInput{
		Nombre:       in.Nombre,
		Descripcion:  in.Descripcion,
		Orden:        in.Orden,
		EsPublica:    in.EsPublica,
		RequierePago: in.RequierePago,
		CostoUF:      in.CostoUF,
		EnlacePago:   in.EnlacePago,
		NotasPago:    in.NotasPago,
	}
	if in.FechaProgramada != "" {
		t, _ := time.Parse("2006-01-02", in.FechaProgramada)
		svcIn.FechaProgramada = &t
	}
	if in.ResponsableID != "" {
		id, _ := uuid.Parse(in.ResponsableID)
		svcIn.ResponsableID = &id
	}

	st, err := h.svc.CreateStage(c.Context(), actorFrom(c), caseID, svcIn)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(fiber.StatusCreated).JSON(st)
}

// Update Stage godoc
// @Summary      Update stage
// @Description  Staff edits stage fields; estado/estado_pago changes run through the validated transitions
// @Tags         etapas
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string              true  "stage id (uuid)"
// @Param        payload  body  UpdateEtapaRequest  true  "Partial stage payload"
// @Success      200  {object}  models.Etapa
// @Failure      422  {object}  models.ErrorResponse
// @Router       /etapas/{id} [patch]
func (h *Handler) Update(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in UpdateEtapaRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	svcIn := UpdateStageInput{
		Nombre:      in.Nombre,
		Descripcion: in.Descripcion,
		EsPublica:   in.EsPublica,
		CostoUF:     in.CostoUF,
		EnlacePago:  in.EnlacePago,
		NotasPago:   in.NotasPago,
	}
	if in.FechaProgramada != nil {
		t, _ := time.Parse("2006-01-02", *in.FechaProgramada)
		svcIn.FechaProgramada = &t
	}
	if in.ResponsableID != nil {
		rid, _ := uuid.Parse(*in.ResponsableID)
		svcIn.ResponsableID = &rid
	}
	if in.Estado != nil {
		estado := models.StageStatus(*in.Estado)
		svcIn.Estado = &estado
	}
	if in.EstadoPago != nil {
		pago := models.PayStatus(*in.EstadoPago)
		svcIn.EstadoPago = &pago
	}

	st, err := h.svc.UpdateStage(c.Context(), actorFrom(c), id, svcIn)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.JSON(st)
}

// Complete Stage godoc
// @Summary      Complete stage
// @Description  Marks a stage completado; refused while a required payment is outstanding
// @Tags         etapas
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "stage id (uuid)"
// @Success      200  {object}  models.Etapa
// @Failure      422  {object}  models.ErrorResponse
// @Router       /etapas/{id}/completar [post]
func (h *Handler) Complete(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	st, err := h.svc.CompleteStage(c.Context(), actorFrom(c), id)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.JSON(st)
}

// Delete Stage godoc
// @Summary      Delete stage
// @Description  Hard delete; sibling stages keep their generated dates and allocations
// @Tags         etapas
// @Security     BearerAuth
// @Param        id  path  string  true  "stage id (uuid)"
// @Success      204  "no content"
// @Failure      404  {object}  models.ErrorResponse
// @Router       /etapas/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteStage(c.Context(), actorFrom(c), id); err != nil {
		return apperr.ToFiber(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Register Payment godoc
// @Summary      Register payment
// @Description  Adds an amount to the stage's paid total; state becomes parcial or pagado
// @Tags         pagos
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                true  "stage id (uuid)"
// @Param        payload  body  RegistrarPagoRequest  true  "Payment payload"
// @Success      200  {object}  models.Etapa
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /etapas/{id}/pagos [post]
func (h *Handler) RegisterPago(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in RegistrarPagoRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	st, err := h.svc.RegisterPayment(c.Context(), actorFrom(c), id, *in.MontoUF)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.JSON(st)
}

// Mark Paid godoc
// @Summary      Mark stage paid
// @Description  Settles the stage fee in full; confirmar acknowledges a shortfall
// @Tags         pagos
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string               true  "stage id (uuid)"
// @Param        payload  body  MarcarPagadoRequest  true  "Confirmation payload"
// @Success      200  {object}  models.Etapa
// @Failure      422  {object}  models.ErrorResponse
// @Router       /etapas/{id}/pagar [post]
func (h *Handler) MarcarPagado(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in MarcarPagadoRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	st, err := h.svc.MarkStagePaid(c.Context(), actorFrom(c), id, in.Confirmar)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.JSON(st)
}

// Set Payment Link godoc
// @Summary      Set payment link
// @Description  Attaches an external payment link; a non-empty link makes the stage payable
// @Tags         pagos
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string             true  "stage id (uuid)"
// @Param        payload  body  EnlacePagoRequest  true  "Link payload"
// @Success      200  {object}  models.Etapa
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /etapas/{id}/enlace-pago [put]
func (h *Handler) SetEnlacePago(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in EnlacePagoRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	st, err := h.svc.SetPaymentLink(c.Context(), actorFrom(c), id, in.EnlacePago)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.JSON(st)
}

// Request Advance godoc
// @Summary      Request client advance
// @Description  Client signals the stage order they want visible; never changes visibility by itself
// @Tags         avance
// @Security     BearerAuth
// @Accept       json
// @Param        id       path  string         true  "case id (uuid)"
// @Param        payload  body  AvanceRequest  true  "Target order"
// @Success      204  "no content"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /cases/{id}/avance/solicitar [post]
func (h *Handler) SolicitarAvance(c *fiber.Ctx) error {
	caseID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in AvanceRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	if err := h.svc.RequestAdvance(c.Context(), actorFrom(c), caseID, in.Orden); err != nil {
		return apperr.ToFiber(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Authorize Advance godoc
// @Summary      Authorize client advance
// @Description  Staff raises the authorized advance, at most up to the client's request, never backward
// @Tags         avance
// @Security     BearerAuth
// @Accept       json
// @Param        id       path  string         true  "case id (uuid)"
// @Param        payload  body  AvanceRequest  true  "Target order"
// @Success      204  "no content"
// @Failure      422  {object}  models.ErrorResponse
// @Router       /cases/{id}/avance/autorizar [post]
func (h *Handler) AutorizarAvance(c *fiber.Ctx) error {
	caseID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in AvanceRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	if err := h.svc.AuthorizeAdvance(c.Context(), actorFrom(c), caseID, in.Orden); err != nil {
		return apperr.ToFiber(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
