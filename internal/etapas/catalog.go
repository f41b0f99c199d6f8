package etapas

import "strings"

// StageTemplate is one canonical procedural stage of a matter-type template
// list. Templates are compiled-in configuration; generated stages copy and
// never reference them afterwards.
type StageTemplate struct {
	Nombre        string
	Descripcion   string
	DiasEstimados int // delta added to the running day offset, not days since the previous stage
	EsPublica     bool

	// Attached from the per-matter distribution table by TemplatesForMatter.
	PorcentajeHonorario float64

	// Optional variable-fee terms carried into generated stages.
	PorcentajeVariable *float64
	NotasPago          string
}

const defaultMateria = "civil"

var civilTemplates = []StageTemplate{
	{Nombre: "Ingreso de la demanda", Descripcion: "Redacción y presentación de la demanda ante el tribunal competente.", DiasEstimados: 0, EsPublica: true},
	{Nombre: "Notificación de la demanda", Descripcion: "Notificación legal de la demanda a la parte demandada.", DiasEstimados: 30, EsPublica: true},
	{Nombre: "Contestación y réplica", Descripcion: "Recepción de la contestación y trámites de réplica y dúplica.", DiasEstimados: 20, EsPublica: true},
	{Nombre: "Audiencia de conciliación", Descripcion: "Llamado a conciliación entre las partes.", DiasEstimados: 15, EsPublica: true},
	{Nombre: "Término probatorio", Descripcion: "Rendición de las pruebas ofrecidas por las partes.", DiasEstimados: 30, EsPublica: true},
	{Nombre: "Observaciones a la prueba", Descripcion: "Análisis interno y observaciones escritas a la prueba rendida.", DiasEstimados: 45, EsPublica: false},
	{Nombre: "Citación a oír sentencia", Descripcion: "Cierre del debate y citación de las partes a oír sentencia.", DiasEstimados: 20, EsPublica: true},
	{Nombre: "Sentencia de primera instancia", Descripcion: "Dictación de la sentencia definitiva.", DiasEstimados: 60, EsPublica: true},
	{Nombre: "Recursos y cumplimiento", Descripcion: "Tramitación de recursos y cumplimiento del fallo.", DiasEstimados: 30, EsPublica: true},
}

var comercialTemplates = []StageTemplate{
	{Nombre: "Revisión de antecedentes", Descripcion: "Estudio de títulos, contratos y antecedentes comerciales.", DiasEstimados: 0, EsPublica: true},
	{Nombre: "Ingreso de la demanda", Descripcion: "Presentación de la demanda o gestión preparatoria.", DiasEstimados: 15, EsPublica: true},
	{Nombre: "Notificación y requerimiento", Descripcion: "Notificación de la demanda y requerimiento de pago.", DiasEstimados: 30, EsPublica: true},
	{Nombre: "Oposición y prueba", Descripcion: "Tramitación de excepciones y rendición de prueba.", DiasEstimados: 45, EsPublica: true},
	{Nombre: "Sentencia", Descripcion: "Dictación de la sentencia definitiva.", DiasEstimados: 60, EsPublica: true},
	{Nombre: "Cumplimiento y remate", Descripcion: "Cumplimiento forzado, embargos y remate si procede.", DiasEstimados: 45, EsPublica: true},
}

var laboralTemplates = []StageTemplate{
	{Nombre: "Ingreso de la demanda laboral", Descripcion: "Presentación de la demanda ante el juzgado de letras del trabajo.", DiasEstimados: 0, EsPublica: true},
	{Nombre: "Notificación", Descripcion: "Notificación de la demanda al empleador.", DiasEstimados: 10, EsPublica: true},
	{Nombre: "Audiencia preparatoria", Descripcion: "Contestación, llamado a conciliación y fijación de hechos a probar.", DiasEstimados: 25, EsPublica: true},
	{Nombre: "Audiencia de juicio", Descripcion: "Rendición de prueba y alegatos.", DiasEstimados: 20, EsPublica: true},
	{Nombre: "Sentencia", Descripcion: "Dictación de la sentencia definitiva.", DiasEstimados: 30, EsPublica: true},
	{Nombre: "Recursos", Descripcion: "Recurso de nulidad o unificación de jurisprudencia si procede.", DiasEstimados: 30, EsPublica: true},
	{Nombre: "Cumplimiento", Descripcion: "Liquidación del crédito y cumplimiento del fallo.", DiasEstimados: 20, EsPublica: true},
}

var familiaTemplates = []StageTemplate{
	{Nombre: "Ingreso de la causa", Descripcion: "Presentación de la demanda o solicitud ante el tribunal de familia.", DiasEstimados: 0, EsPublica: true},
	{Nombre: "Mediación previa", Descripcion: "Proceso de mediación obligatoria cuando la materia lo exige.", DiasEstimados: 20, EsPublica: true},
	{Nombre: "Audiencia preparatoria", Descripcion: "Fijación del objeto del juicio y de la prueba a rendir.", DiasEstimados: 25, EsPublica: true},
	{Nombre: "Audiencia de juicio", Descripcion: "Rendición de prueba y alegatos de clausura.", DiasEstimados: 30, EsPublica: true},
	{Nombre: "Sentencia", Descripcion: "Dictación de la sentencia definitiva.", DiasEstimados: 20, EsPublica: true},
	{Nombre: "Cumplimiento", Descripcion: "Cumplimiento de la sentencia y seguimiento de acuerdos.", DiasEstimados: 30, EsPublica: true},
}

var penalTemplates = []StageTemplate{
	{Nombre: "Querella o denuncia", Descripcion: "Preparación y presentación de la querella o denuncia.", DiasEstimados: 0, EsPublica: true},
	{Nombre: "Investigación formalizada", Descripcion: "Seguimiento de la investigación dirigida por el Ministerio Público.", DiasEstimados: 30, EsPublica: true},
	{Nombre: "Medidas cautelares", Descripcion: "Audiencias sobre medidas cautelares personales y reales.", DiasEstimados: 15, EsPublica: true},
	{Nombre: "Cierre de la investigación", Descripcion: "Solicitud y debate del cierre de la investigación.", DiasEstimados: 60, EsPublica: true},
	{Nombre: "Acusación y preparación", Descripcion: "Acusación fiscal y audiencia de preparación del juicio oral.", DiasEstimados: 30, EsPublica: true},
	{Nombre: "Juicio oral", Descripcion: "Desarrollo del juicio oral ante el tribunal.", DiasEstimados: 45, EsPublica: true, PorcentajeVariable: ptr(0.1), NotasPago: "Honorario variable sobre el resultado del juicio, según contrato."},
	{Nombre: "Recursos", Descripcion: "Recurso de nulidad u otros recursos si procede.", DiasEstimados: 30, EsPublica: true},
}

var templatesByMateria = map[string][]StageTemplate{
	"civil":     civilTemplates,
	"comercial": comercialTemplates,
	"laboral":   laboralTemplates,
	"familia":   familiaTemplates,
	"penal":     penalTemplates,
}

// feeShares holds the fraction of the case's total fee attributed to each
// stage position, per matter type. Lists need not sum to exactly 1 (the
// last generated stage absorbs the remainder) and need not cover every
// position (missing positions get share 0). Matters without an entry use
// the civil distribution.
var feeShares = map[string][]float64{
	"civil":   {0.15, 0.10, 0.10, 0.10, 0.15, 0.20, 0.10, 0.05, 0.05},
	"laboral": {0.20, 0.15, 0.20, 0.20, 0.15, 0.05, 0.05},
	"familia": {0.20, 0.20, 0.20, 0.20, 0.10}, // position 6 intentionally absent
	"penal":   {0.25, 0.15, 0.10, 0.10, 0.15, 0.20, 0.05},
}

func normalizeMateria(materia string) string {
	m := strings.ToLower(strings.TrimSpace(materia))
	if _, ok := templatesByMateria[m]; !ok {
		return defaultMateria
	}
	return m
}

// TemplatesForMatter returns the ordered template list for a matter type
// with each entry's fee share attached from the distribution table.
// Lookup is case-insensitive; empty or unrecognized matters resolve to the
// civil list. The result is always non-empty, is a copy, and never errors.
func TemplatesForMatter(materia string) []StageTemplate {
	m := normalizeMateria(materia)
	base := templatesByMateria[m]

	shares, ok := feeShares[m]
	if !ok {
		shares = feeShares[defaultMateria]
	}

	out := make([]StageTemplate, len(base))
	copy(out, base)
	for i := range out {
		if i < len(shares) {
			out[i].PorcentajeHonorario = shares[i]
		} else {
			out[i].PorcentajeHonorario = 0
		}
	}
	return out
}

// Materias lists the matter types with an explicit template list.
func Materias() []string {
	out := make([]string, 0, len(templatesByMateria))
	for m := range templatesByMateria {
		out = append(out, m)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
