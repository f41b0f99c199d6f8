package etapas

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nvaldesp/estudio-backend/pkg/models"
)

// GenerateParams carries the case fields the generator reads. Total is the
// resolved fee amount (explicit override or arancel lookup); nil means no
// amount could be resolved.
type GenerateParams struct {
	Materia   string
	Start     time.Time // zero value → now
	Total     *float64
	Moneda    string
	Modalidad models.FeeMode
}

// distributesCosts reports whether generated stages carry fee allocations:
// only prepaid collection, in the reference currency, with a resolved total.
func (p GenerateParams) distributesCosts() bool {
	return p.Modalidad == models.ModoAnticipado &&
		p.Moneda == models.MonedaUF &&
		p.Total != nil
}

// round2 rounds a fee amount to 2 decimals.
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// truncateToDate drops the time-of-day component.
func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// BuildStages converts a case's fee terms into its full ordered stage set.
// It is pure and deterministic: same params, same stages. It is NOT
// idempotent against storage; callers must ensure it runs once per case
// (see Service.GenerateInitialStages).
//
// Scheduling: a running day counter accumulates each template's
// DiasEstimados BEFORE that stage's date is computed, so the first stage's
// date already includes its own offset.
//
// Fee allocation: each template with a positive share gets
// round(total*share, 2); the LAST template, regardless of its own share,
// absorbs the unallocated remainder so the stage costs sum exactly to the
// total. Zero-share templates that are not last carry no payment
// requirement.
func BuildStages(caseID uuid.UUID, p GenerateParams) []models.Etapa {
	tpls := TemplatesForMatter(p.Materia)
	if len(tpls) == 0 {
		return nil
	}

	start := p.Start
	if start.IsZero() {
		start = time.Now()
	}

	distribute := p.distributesCosts()

	stages := make([]models.Etapa, 0, len(tpls))
	cumDays := 0
	allocated := 0.0

	for i, tpl := range tpls {
		cumDays += tpl.DiasEstimados
		fecha := truncateToDate(start.AddDate(0, 0, cumDays))

		st := models.Etapa{
			CaseID:          caseID,
			Nombre:          tpl.Nombre,
			Descripcion:     tpl.Descripcion,
			Orden:           i + 1,
			Estado:          models.StagePendiente,
			EsPublica:       tpl.EsPublica,
			FechaProgramada: &fecha,
			EstadoPago:      models.PagoPendiente,
			NotasPago:       tpl.NotasPago,
		}
		if tpl.PorcentajeVariable != nil {
			pv := *tpl.PorcentajeVariable
			st.PorcentajeVariable = &pv
		}

		if distribute {
			last := i == len(tpls)-1
			switch {
			case last:
				costo := round2(*p.Total - allocated)
				st.CostoUF = &costo
				st.RequierePago = true
			case tpl.PorcentajeHonorario > 0:
				costo := round2(*p.Total * tpl.PorcentajeHonorario)
				allocated += costo
				st.CostoUF = &costo
				st.RequierePago = true
			}
		}

		stages = append(stages, st)
	}
	return stages
}
