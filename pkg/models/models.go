package models

import (
	"time"

	"github.com/google/uuid"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAbogado Role = "abogado"
	RoleCliente Role = "cliente"
)

// IsStaff reports whether the role may mutate cases and stages.
func (r Role) IsStaff() bool { return r == RoleAdmin || r == RoleAbogado }

// CaseStatus defines lifecycle states for a case.
type CaseStatus string

const (
	CaseActiva    CaseStatus = "activa"
	CaseCerrada   CaseStatus = "cerrada"
	CaseArchivada CaseStatus = "archivada"
)

// StageStatus defines the procedural lifecycle of a single stage.
type StageStatus string

const (
	StagePendiente  StageStatus = "pendiente"
	StageEnProceso  StageStatus = "en_proceso"
	StageCompletado StageStatus = "completado"
)

// PayStatus tracks payment progress for a stage, independent of StageStatus.
type PayStatus string

const (
	PagoPendiente  PayStatus = "pendiente"
	PagoSolicitado PayStatus = "solicitado"
	PagoEnProceso  PayStatus = "en_proceso"
	PagoParcial    PayStatus = "parcial"
	PagoPagado     PayStatus = "pagado"
	PagoVencido    PayStatus = "vencido"
)

// FeeMode defines how the case's fee is collected. Only ModoAnticipado
// distributes the fee across stages at generation time.
type FeeMode string

const (
	ModoAnticipado FeeMode = "anticipado"
	ModoCuotas     FeeMode = "cuotas"
	ModoExito      FeeMode = "exito"
)

// MonedaUF is the reference fee unit; stage cost distribution only applies
// when the case's fee currency equals it.
const MonedaUF = "UF"

/* =============================== Entities =============================== */

// User represents a staff member (admin/abogado) or a portal client.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         Role      `gorm:"type:varchar(20);not null"`
	Name         string
	CreatedAt    time.Time
}

// Case represents a legal matter managed by the firm.
type Case struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClientID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	LawyerID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	Caratula    string     `gorm:"not null"` // case title as filed
	Materia     string     `gorm:"not null"` // matter type, selects the stage template list
	Descripcion string     `gorm:"type:text"`
	Estado      CaseStatus `gorm:"type:varchar(20);default:'activa'"`

	// Fee terms, read once by the stage generator.
	FechaInicio     *time.Time `gorm:"type:date"`
	ModalidadCobro  FeeMode    `gorm:"type:varchar(20);default:'anticipado'"`
	MonedaHonorario string     `gorm:"type:varchar(10);default:'UF'"`
	HonorarioTotal  *float64   `gorm:"type:numeric(12,2)"` // explicit override; nil → arancel lookup
	ArancelID       *uuid.UUID `gorm:"type:uuid"`

	// Client advance gate: highest stage order the client asked to reach,
	// and the highest order staff has explicitly authorized. Authorized
	// never tracks requested on its own.
	AlcanceClienteSolicitado int `gorm:"not null;default:0"`
	AlcanceClienteAutorizado int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Etapas     []Etapa        `gorm:"foreignKey:CaseID"`
	Documentos []CaseDocument `gorm:"foreignKey:CaseID"`
}

// Arancel is a fee-schedule entry; cases may reference one instead of
// carrying an explicit total.
type Arancel struct {
	ID      uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Nombre  string    `gorm:"uniqueIndex;not null"`
	MontoUF float64   `gorm:"type:numeric(12,2);not null"`
}

// Etapa is one generated procedural stage of a case. Rows are created once
// by the generator and mutated in place afterwards, never regenerated.
type Etapa struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CaseID uuid.UUID `gorm:"type:uuid;not null;index" json:"case_id"`

	Nombre      string      `gorm:"column:etapa;not null" json:"etapa"`
	Descripcion string      `gorm:"type:text" json:"descripcion"`
	Orden       int         `gorm:"not null" json:"orden"` // 1-based template position
	Estado      StageStatus `gorm:"type:varchar(20);default:'pendiente'" json:"estado"`
	EsPublica   bool        `gorm:"not null;default:true" json:"es_publica"`

	FechaProgramada *time.Time `gorm:"type:date" json:"fecha_programada"`
	FechaCumplida   *time.Time `json:"fecha_cumplida"`
	ResponsableID   *uuid.UUID `gorm:"type:uuid" json:"responsable_id"`

	RequierePago  bool      `gorm:"not null;default:false" json:"requiere_pago"`
	CostoUF       *float64  `gorm:"type:numeric(12,2)" json:"costo_uf"`
	EstadoPago    PayStatus `gorm:"type:varchar(20);default:'pendiente'" json:"estado_pago"`
	EnlacePago    string    `json:"enlace_pago"`
	MontoPagadoUF float64   `gorm:"type:numeric(12,2);not null;default:0" json:"monto_pagado_uf"`

	// Optional variable-fee terms carried from the template.
	MontoVariableBase  *float64 `gorm:"type:numeric(12,2)" json:"monto_variable_base"`
	PorcentajeVariable *float64 `gorm:"type:numeric(5,4)" json:"porcentaje_variable"`
	NotasPago          string   `gorm:"type:text" json:"notas_pago"`

	// Version guards read-modify-write payment and lifecycle updates
	// against concurrent writers (conditional UPDATE ... WHERE version = ?).
	Version int `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Etapa) TableName() string { return "etapas" }

// CaseDocument represents a file uploaded to a case.
type CaseDocument struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID       uuid.UUID `gorm:"type:uuid;not null;index"`
	UploaderID   uuid.UUID `gorm:"type:uuid;not null"`
	Key          string    `gorm:"not null"`
	Mime         string    `gorm:"not null"`
	Size         int       `gorm:"not null"`
	OriginalName string
	CreatedAt    time.Time

	// Relation back to case
	Case Case `gorm:"foreignKey:CaseID;references:ID"`
}

// EtapaHistory is an audit log entry for important stage changes.
type EtapaHistory struct {
	ID        uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID    uuid.UUID   `gorm:"type:uuid;not null;index"`
	EtapaID   *uuid.UUID  `gorm:"type:uuid;index"` // nil for case-level actions (generation, advance gate)
	ActorID   uuid.UUID   `gorm:"type:uuid;not null;index"`  // who performed the action
	Action    string      `gorm:"type:varchar(50);not null"` // e.g. generada, completada, pago_registrado, eliminada
	OldEstado StageStatus `gorm:"type:varchar(20)"`
	NewEstado StageStatus `gorm:"type:varchar(20)"`
	Detail    string      `gorm:"type:text"` // optional explanation/comment
	CreatedAt time.Time   `gorm:"autoCreateTime"`
}
