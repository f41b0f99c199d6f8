package etapas

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nvaldesp/estudio-backend/pkg/apperr"
	"github.com/nvaldesp/estudio-backend/pkg/models"
	"github.com/nvaldesp/estudio-backend/pkg/sanitize"
	"github.com/nvaldesp/estudio-backend/pkg/utils"
)

// Actor identifies who is performing an operation. Role checks here are a
// second line behind the HTTP middleware: the service refuses mutations
// from the client role even if a handler forgets its guard.
type Actor struct {
	ID   uuid.UUID
	Role models.Role
}

// Service is the stage engine's boundary with case-creation and
// case-editing callers. Every mutation runs inside a transaction and
// either fully commits or changes nothing.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

/* ========================== Stage generation ============================ */

// GenerateInitialStages instantiates the case's full stage set from its
// matter-type template list. It must run exactly once per case: the case
// row is locked and generation is refused if stages already exist.
func (s *Service) GenerateInitialStages(ctx context.Context, actor Actor, caseID uuid.UUID) error {
	if !actor.Role.IsStaff() {
		return apperr.Permission("solo el equipo del estudio puede generar etapas")
	}

	return s.inTx(ctx, func(tx *gorm.DB) error {
		var cs models.Case
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("causa no encontrada")
			}
			return apperr.Internal("error al cargar la causa")
		}

		var existing int64
		if err := tx.Model(&models.Etapa{}).Where("case_id = ?", cs.ID).Count(&existing).Error; err != nil {
			return apperr.Internal("error al verificar etapas existentes")
		}
		if existing > 0 {
			return apperr.Precondition("la causa ya tiene etapas generadas")
		}

		total, err := s.resolveTotal(tx, &cs)
		if err != nil {
			return err
		}

		start := time.Now()
		if cs.FechaInicio != nil {
			start = *cs.FechaInicio
		}

		stages := BuildStages(cs.ID, GenerateParams{
			Materia:   cs.Materia,
			Start:     start,
			Total:     total,
			Moneda:    cs.MonedaHonorario,
			Modalidad: cs.ModalidadCobro,
		})
		if len(stages) == 0 {
			return nil
		}
		if err := tx.Create(&stages).Error; err != nil {
			return apperr.Internal("error al crear las etapas")
		}

		utils.LogEtapaHistory(ctx, tx, cs.ID, actor.ID, nil, "etapas_generadas",
			"", models.StagePendiente, cs.Materia)
		return nil
	})
}

// resolveTotal returns the case's fee amount: the explicit override when
// present, otherwise the referenced arancel's amount, otherwise nil.
func (s *Service) resolveTotal(tx *gorm.DB, cs *models.Case) (*float64, error) {
	if cs.HonorarioTotal != nil {
		return cs.HonorarioTotal, nil
	}
	if cs.ArancelID == nil {
		return nil, nil
	}
	var a models.Arancel
	if err := tx.First(&a, "id = ?", *cs.ArancelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.Internal("error al consultar el arancel")
	}
	return &a.MontoUF, nil
}

/* ============================= Stage CRUD =============================== */

// CreateStageInput is the service-level shape for a manually added stage.
type CreateStageInput struct {
	Nombre          string
	Descripcion     string
	Orden           int // 0 → append after the current last stage
	EsPublica       *bool
	FechaProgramada *time.Time
	ResponsableID   *uuid.UUID
	RequierePago    bool
	CostoUF         *float64
	EnlacePago      string
	NotasPago       string
}

func (s *Service) CreateStage(ctx context.Context, actor Actor, caseID uuid.UUID, in CreateStageInput) (*models.Etapa, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.Permission("solo el equipo del estudio puede crear etapas")
	}
	if strings.TrimSpace(in.Nombre) == "" {
		return nil, apperr.Validation("el nombre de la etapa es obligatorio")
	}
	if in.CostoUF != nil && *in.CostoUF < 0 {
		return nil, apperr.Validation("el costo de la etapa no puede ser negativo")
	}
	// A payment link makes the stage payable, so it needs a cost too.
	if (in.RequierePago || in.EnlacePago != "") && in.CostoUF == nil {
		return nil, apperr.Validation("una etapa que requiere pago necesita un costo")
	}
	if in.EnlacePago != "" {
		if err := validatePaymentLink(in.EnlacePago); err != nil {
			return nil, err
		}
	}

	var st models.Etapa
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var cs models.Case
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("causa no encontrada")
			}
			return apperr.Internal("error al cargar la causa")
		}

		orden := in.Orden
		if orden <= 0 {
			var maxOrden int
			row := tx.Model(&models.Etapa{}).Where("case_id = ?", cs.ID).
				Select("COALESCE(MAX(orden), 0)").Row()
			if err := row.Scan(&maxOrden); err != nil {
				return apperr.Internal("error al calcular el orden")
			}
			orden = maxOrden + 1
		}

		esPublica := true
		if in.EsPublica != nil {
			esPublica = *in.EsPublica
		}
		responsable := in.ResponsableID
		if responsable == nil {
			id := actor.ID
			responsable = &id
		}

		st = models.Etapa{
			CaseID:          cs.ID,
			Nombre:          strings.TrimSpace(in.Nombre),
			Descripcion:     strings.TrimSpace(in.Descripcion),
			Orden:           orden,
			Estado:          models.StagePendiente,
			EsPublica:       esPublica,
			FechaProgramada: in.FechaProgramada,
			ResponsableID:   responsable,
			RequierePago:    in.RequierePago || in.EnlacePago != "",
			CostoUF:         in.CostoUF,
			EstadoPago:      models.PagoPendiente,
			EnlacePago:      in.EnlacePago,
			NotasPago:       in.NotasPago,
		}
		if err := tx.Create(&st).Error; err != nil {
			return apperr.Internal("error al crear la etapa")
		}

		utils.LogEtapaHistory(ctx, tx, cs.ID, actor.ID, &st.ID, "etapa_creada",
			"", st.Estado, st.Nombre)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateStageInput carries a partial update; nil pointers leave the field
// untouched. Estado and EstadoPago changes go through the validated
// transition functions, so the payment gate also protects updates.
type UpdateStageInput struct {
	Nombre          *string
	Descripcion     *string
	EsPublica       *bool
	FechaProgramada *time.Time
	ResponsableID   *uuid.UUID
	CostoUF         *float64
	EnlacePago      *string
	NotasPago       *string
	Estado          *models.StageStatus
	EstadoPago      *models.PayStatus
}

func (s *Service) UpdateStage(ctx context.Context, actor Actor, id uuid.UUID, in UpdateStageInput) (*models.Etapa, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.Permission("solo el equipo del estudio puede editar etapas")
	}
	if in.Nombre != nil && strings.TrimSpace(*in.Nombre) == "" {
		return nil, apperr.Validation("el nombre de la etapa no puede quedar vacío")
	}
	if in.CostoUF != nil && *in.CostoUF < 0 {
		return nil, apperr.Validation("el costo de la etapa no puede ser negativo")
	}
	if in.EnlacePago != nil && *in.EnlacePago != "" {
		if err := validatePaymentLink(*in.EnlacePago); err != nil {
			return nil, err
		}
	}

	var out models.Etapa
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		st, err := lockStage(tx, id)
		if err != nil {
			return err
		}
		oldEstado := st.Estado

		if in.Nombre != nil {
			st.Nombre = strings.TrimSpace(*in.Nombre)
		}
		if in.Descripcion != nil {
			st.Descripcion = strings.TrimSpace(*in.Descripcion)
		}
		if in.EsPublica != nil {
			st.EsPublica = *in.EsPublica
		}
		if in.FechaProgramada != nil {
			fecha := truncateToDate(*in.FechaProgramada)
			st.FechaProgramada = &fecha
		}
		if in.ResponsableID != nil {
			st.ResponsableID = in.ResponsableID
		}
		if in.CostoUF != nil {
			st.CostoUF = in.CostoUF
		}
		if in.NotasPago != nil {
			st.NotasPago = *in.NotasPago
		}
		if in.EnlacePago != nil {
			// Setting a non-empty link on a stage that didn't require
			// payment makes it payable as a side effect.
			if *in.EnlacePago != "" && !st.RequierePago {
				st.RequierePago = true
			}
			st.EnlacePago = *in.EnlacePago
		}
		if in.EstadoPago != nil && *in.EstadoPago != st.EstadoPago {
			if err := TransitionPago(st, *in.EstadoPago); err != nil {
				return err
			}
		}
		if in.Estado != nil && *in.Estado != st.Estado {
			if err := TransitionEstado(st, *in.Estado, time.Now()); err != nil {
				return err
			}
		}

		if err := saveStage(tx, st); err != nil {
			return err
		}
		if oldEstado != st.Estado {
			utils.LogEtapaHistory(ctx, tx, st.CaseID, actor.ID, &st.ID, "etapa_actualizada",
				oldEstado, st.Estado, "")
		}
		out = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteStage marks a stage completado. Refused while the stage requires
// payment and its payment state is not pagado.
func (s *Service) CompleteStage(ctx context.Context, actor Actor, id uuid.UUID) (*models.Etapa, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.Permission("solo el equipo del estudio puede completar etapas")
	}

	var out models.Etapa
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		st, err := lockStage(tx, id)
		if err != nil {
			return err
		}
		oldEstado := st.Estado
		if err := TransitionEstado(st, models.StageCompletado, time.Now()); err != nil {
			return err
		}
		if err := saveStage(tx, st); err != nil {
			return err
		}
		utils.LogEtapaHistory(ctx, tx, st.CaseID, actor.ID, &st.ID, "etapa_completada",
			oldEstado, st.Estado, "")
		out = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteStage hard-deletes a stage. Sibling stages keep their originally
// generated dates and fee allocations; nothing is recomputed.
func (s *Service) DeleteStage(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !actor.Role.IsStaff() {
		return apperr.Permission("solo el equipo del estudio puede eliminar etapas")
	}

	return s.inTx(ctx, func(tx *gorm.DB) error {
		st, err := lockStage(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&models.Etapa{}, "id = ?", st.ID).Error; err != nil {
			return apperr.Internal("error al eliminar la etapa")
		}
		utils.LogEtapaHistory(ctx, tx, st.CaseID, actor.ID, &st.ID, "etapa_eliminada",
			st.Estado, "", st.Nombre)
		return nil
	})
}

/* =============================== Listing ================================ */

// ListStages returns a case's stages ordered by orden. For the client role
// the list is clipped to public stages within the authorized advance gate,
// and payment notes are PII-redacted.
func (s *Service) ListStages(ctx context.Context, viewer Actor, caseID uuid.UUID) ([]models.Etapa, error) {
	var cs models.Case
	if err := s.db.WithContext(ctx).First(&cs, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("causa no encontrada")
		}
		return nil, apperr.Internal("error al cargar la causa")
	}

	if viewer.Role == models.RoleCliente && cs.ClientID != viewer.ID {
		return nil, apperr.Permission("la causa pertenece a otro cliente")
	}

	var stages []models.Etapa
	if err := s.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("orden ASC").
		Find(&stages).Error; err != nil {
		return nil, apperr.Internal("error al listar las etapas")
	}

	if viewer.Role != models.RoleCliente {
		return stages, nil
	}

	visible := make([]models.Etapa, 0, len(stages))
	for _, st := range stages {
		if !VisibleToClient(&cs, &st) {
			continue
		}
		st.NotasPago = sanitize.RedactPII(st.NotasPago)
		visible = append(visible, st)
	}
	return visible, nil
}

/* =============================== Payments =============================== */

// RegisterPayment adds an amount to the stage's cumulative paid total and
// recomputes the payment state (parcial or pagado).
func (s *Service) RegisterPayment(ctx context.Context, actor Actor, id uuid.UUID, amount float64) (*models.Etapa, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.Permission("solo el equipo del estudio puede registrar pagos")
	}

	var out models.Etapa
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		st, err := lockStage(tx, id)
		if err != nil {
			return err
		}
		if err := ApplyPayment(st, amount); err != nil {
			return err
		}
		if err := saveStage(tx, st); err != nil {
			return err
		}
		utils.LogEtapaHistory(ctx, tx, st.CaseID, actor.ID, &st.ID, "pago_registrado",
			st.Estado, st.Estado, string(st.EstadoPago))
		out = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkStagePaid settles the stage's fee in full. confirm acknowledges a
// shortfall between the recorded paid amount and the stage cost.
func (s *Service) MarkStagePaid(ctx context.Context, actor Actor, id uuid.UUID, confirm bool) (*models.Etapa, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.Permission("solo el equipo del estudio puede registrar pagos")
	}

	var out models.Etapa
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		st, err := lockStage(tx, id)
		if err != nil {
			return err
		}
		if err := MarkPaid(st, confirm); err != nil {
			return err
		}
		if err := saveStage(tx, st); err != nil {
			return err
		}
		utils.LogEtapaHistory(ctx, tx, st.CaseID, actor.ID, &st.ID, "pago_completado",
			st.Estado, st.Estado, string(st.EstadoPago))
		out = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPaymentLink attaches an externally-hosted payment link. Setting a
// non-empty link on a stage without a payment requirement flips
// requiere_pago on.
func (s *Service) SetPaymentLink(ctx context.Context, actor Actor, id uuid.UUID, link string) (*models.Etapa, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.Permission("solo el equipo del estudio puede editar etapas")
	}
	link = strings.TrimSpace(link)
	if link != "" {
		if err := validatePaymentLink(link); err != nil {
			return nil, err
		}
	}
	return s.UpdateStage(ctx, actor, id, UpdateStageInput{EnlacePago: &link})
}

/* ============================ Advance gate ============================== */

// RequestAdvance records the client's desired advance target. It never
// changes visibility by itself.
func (s *Service) RequestAdvance(ctx context.Context, actor Actor, caseID uuid.UUID, target int) error {
	if target < 1 {
		return apperr.Validation("el alcance solicitado debe ser al menos 1")
	}

	return s.inTx(ctx, func(tx *gorm.DB) error {
		var cs models.Case
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("causa no encontrada")
			}
			return apperr.Internal("error al cargar la causa")
		}
		if actor.Role == models.RoleCliente && cs.ClientID != actor.ID {
			return apperr.Permission("la causa pertenece a otro cliente")
		}

		var maxOrden int
		row := tx.Model(&models.Etapa{}).Where("case_id = ?", cs.ID).
			Select("COALESCE(MAX(orden), 0)").Row()
		if err := row.Scan(&maxOrden); err != nil {
			return apperr.Internal("error al consultar las etapas")
		}
		if target > maxOrden {
			return apperr.Validation("el alcance solicitado excede la última etapa de la causa")
		}

		if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).
			Update("alcance_cliente_solicitado", target).Error; err != nil {
			return apperr.Internal("error al registrar la solicitud")
		}
		utils.LogEtapaHistory(ctx, tx, cs.ID, actor.ID, nil, "avance_solicitado", "", "", "")
		return nil
	})
}

// AuthorizeAdvance raises the case's authorized advance. Staff only; the
// target may not exceed the client's current request and the authorized
// value never moves backward.
func (s *Service) AuthorizeAdvance(ctx context.Context, actor Actor, caseID uuid.UUID, target int) error {
	if !actor.Role.IsStaff() {
		return apperr.Permission("solo el equipo del estudio puede autorizar avances")
	}
	if target < 1 {
		return apperr.Validation("el alcance autorizado debe ser al menos 1")
	}

	return s.inTx(ctx, func(tx *gorm.DB) error {
		var cs models.Case
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("causa no encontrada")
			}
			return apperr.Internal("error al cargar la causa")
		}
		if target > cs.AlcanceClienteSolicitado {
			return apperr.Precondition("no se puede autorizar más allá del alcance solicitado por el cliente")
		}
		if target < cs.AlcanceClienteAutorizado {
			return apperr.Precondition("el alcance autorizado no puede retroceder")
		}

		if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).
			Update("alcance_cliente_autorizado", target).Error; err != nil {
			return apperr.Internal("error al registrar la autorización")
		}
		utils.LogEtapaHistory(ctx, tx, cs.ID, actor.ID, nil, "avance_autorizado", "", "", "")
		return nil
	})
}

/* =============================== Helpers ================================ */

func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return apperr.Internal("error al iniciar la transacción")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return apperr.Internal("error al confirmar la transacción")
	}
	return nil
}

// lockStage loads a stage FOR UPDATE inside tx.
func lockStage(tx *gorm.DB, id uuid.UUID) (*models.Etapa, error) {
	var st models.Etapa
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&st, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("etapa no encontrada")
		}
		return nil, apperr.Internal("error al cargar la etapa")
	}
	return &st, nil
}

// saveStage persists an in-memory mutation with a version check so a
// concurrent writer that slipped between read and write is rejected
// instead of silently overwritten.
func saveStage(tx *gorm.DB, st *models.Etapa) error {
	res := tx.Model(&models.Etapa{}).
		Where("id = ? AND version = ?", st.ID, st.Version).
		Updates(map[string]any{
			"etapa":            st.Nombre,
			"descripcion":      st.Descripcion,
			"estado":           st.Estado,
			"es_publica":       st.EsPublica,
			"fecha_programada": st.FechaProgramada,
			"fecha_cumplida":   st.FechaCumplida,
			"responsable_id":   st.ResponsableID,
			"requiere_pago":    st.RequierePago,
			"costo_uf":         st.CostoUF,
			"estado_pago":      st.EstadoPago,
			"enlace_pago":      st.EnlacePago,
			"monto_pagado_uf":  st.MontoPagadoUF,
			"notas_pago":       st.NotasPago,
			"version":          st.Version + 1,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return apperr.Internal("error al guardar la etapa")
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("la etapa fue modificada por otra operación; reintente")
	}
	st.Version++
	return nil
}

// validatePaymentLink accepts absolute http(s) URLs only.
func validatePaymentLink(link string) error {
	u, err := url.ParseRequestURI(link)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apperr.Validation("el enlace de pago no es una URL válida")
	}
	return nil
}
