package etapas

import (
	"fmt"
	"time"

	"github.com/nvaldesp/estudio-backend/pkg/apperr"
	"github.com/nvaldesp/estudio-backend/pkg/models"
)

// Allowed procedural transitions. completado is terminal; a stage may be
// completed directly from pendiente (staff marking work done in one step).
var stageTransitions = map[models.StageStatus]map[models.StageStatus]bool{
	models.StagePendiente:  {models.StageEnProceso: true, models.StageCompletado: true},
	models.StageEnProceso:  {models.StagePendiente: true, models.StageCompletado: true},
	models.StageCompletado: {},
}

// Allowed payment transitions. pagado is terminal; vencido is reachable
// from every non-terminal state on a missed deadline and can still settle.
var payTransitions = map[models.PayStatus]map[models.PayStatus]bool{
	models.PagoPendiente:  {models.PagoSolicitado: true, models.PagoEnProceso: true, models.PagoParcial: true, models.PagoPagado: true, models.PagoVencido: true},
	models.PagoSolicitado: {models.PagoEnProceso: true, models.PagoParcial: true, models.PagoPagado: true, models.PagoVencido: true},
	models.PagoEnProceso:  {models.PagoParcial: true, models.PagoPagado: true, models.PagoVencido: true},
	models.PagoParcial:    {models.PagoParcial: true, models.PagoPagado: true, models.PagoVencido: true},
	models.PagoVencido:    {models.PagoParcial: true, models.PagoPagado: true},
	models.PagoPagado:     {},
}

// CanTransitionEstado reports whether the procedural state may move from
// current to next.
func CanTransitionEstado(current, next models.StageStatus) bool {
	nexts, ok := stageTransitions[current]
	return ok && nexts[next]
}

// CanTransitionPago reports whether the payment state may move from
// current to next.
func CanTransitionPago(current, next models.PayStatus) bool {
	nexts, ok := payTransitions[current]
	return ok && nexts[next]
}

// TransitionEstado validates and applies a procedural transition in memory.
// Completing enforces the payment gate: a stage that requires payment may
// not complete until its payment state is pagado.
func TransitionEstado(st *models.Etapa, next models.StageStatus, now time.Time) error {
	if !CanTransitionEstado(st.Estado, next) {
		return apperr.Precondition(fmt.Sprintf("la etapa no puede pasar de %s a %s", st.Estado, next))
	}
	if next == models.StageCompletado && st.RequierePago && st.EstadoPago != models.PagoPagado {
		return apperr.Precondition("la etapa requiere pago y el honorario no está pagado")
	}
	st.Estado = next
	if next == models.StageCompletado {
		t := now
		st.FechaCumplida = &t
	} else {
		st.FechaCumplida = nil
	}
	return nil
}

// TransitionPago validates and applies a payment transition in memory.
func TransitionPago(st *models.Etapa, next models.PayStatus) error {
	if !st.RequierePago {
		return apperr.Precondition("la etapa no requiere pago")
	}
	if !CanTransitionPago(st.EstadoPago, next) {
		return apperr.Precondition(fmt.Sprintf("el pago no puede pasar de %s a %s", st.EstadoPago, next))
	}
	st.EstadoPago = next
	return nil
}

// ApplyPayment registers an amount paid against the stage in memory.
// Negative amounts are refused, never clamped. The payment state becomes
// pagado when the cumulative paid amount reaches the stage cost, parcial
// otherwise.
func ApplyPayment(st *models.Etapa, amount float64) error {
	if amount < 0 {
		return apperr.Validation("el monto pagado no puede ser negativo")
	}
	if !st.RequierePago {
		return apperr.Precondition("la etapa no requiere pago")
	}
	if st.CostoUF == nil {
		return apperr.Precondition("la etapa requiere pago pero no tiene un costo definido")
	}
	if st.EstadoPago == models.PagoPagado {
		return apperr.Precondition("el honorario de la etapa ya está pagado")
	}

	total := round2(st.MontoPagadoUF + amount)
	next := models.PagoParcial
	if total >= *st.CostoUF {
		next = models.PagoPagado
	}
	if err := TransitionPago(st, next); err != nil {
		return err
	}
	st.MontoPagadoUF = total
	return nil
}

// MarkPaid settles the stage's payment in full in memory. When the
// recorded paid amount is below the cost the caller must pass confirm to
// accept the shortfall. A recorded amount above the cost is preserved.
func MarkPaid(st *models.Etapa, confirm bool) error {
	if !st.RequierePago {
		return apperr.Precondition("la etapa no requiere pago")
	}
	if st.CostoUF == nil {
		return apperr.Precondition("la etapa requiere pago pero no tiene un costo definido")
	}
	if st.EstadoPago == models.PagoPagado {
		return apperr.Precondition("el honorario de la etapa ya está pagado")
	}
	if st.MontoPagadoUF < *st.CostoUF && !confirm {
		return apperr.Precondition("el monto registrado es menor al costo de la etapa; se requiere confirmación")
	}
	if err := TransitionPago(st, models.PagoPagado); err != nil {
		return err
	}
	if st.MontoPagadoUF < *st.CostoUF {
		st.MontoPagadoUF = *st.CostoUF
	}
	return nil
}

// VisibleToClient reports whether a stage may be shown to the client role
// of a given case: it must be flagged public, and when the case has an
// authorized advance gate in effect the stage's order must not exceed it.
func VisibleToClient(cs *models.Case, st *models.Etapa) bool {
	if !st.EsPublica {
		return false
	}
	if cs.AlcanceClienteAutorizado > 0 && st.Orden > cs.AlcanceClienteAutorizado {
		return false
	}
	return true
}
