package etapas

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nvaldesp/estudio-backend/pkg/apperr"
	"github.com/nvaldesp/estudio-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

// openTestDB loads TEST_DATABASE_URL, opens a real Postgres connection,
// runs migrations, and registers a cleanup that truncates test tables after run.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Case{}, &models.Arancel{},
		&models.Etapa{}, &models.CaseDocument{}, &models.EtapaHistory{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	etapa_histories,
	case_documents,
	etapas,
	cases,
	arancels,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

type seedResult struct {
	Abogado Actor
	Cliente Actor
	CaseID  uuid.UUID
}

// seedCase inserts an abogado, a cliente and one prepaid civil case.
func seedCase(t *testing.T, db *gorm.DB, mutate func(*models.Case)) seedResult {
	t.Helper()

	abogadoID, clienteID := uuid.New(), uuid.New()
	if err := db.Create(&models.User{
		ID: abogadoID, Email: "a_" + abogadoID.String()[:8] + "@x.com", Role: models.RoleAbogado,
	}).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&models.User{
		ID: clienteID, Email: "c_" + clienteID.String()[:8] + "@x.com", Role: models.RoleCliente,
	}).Error; err != nil {
		t.Fatal(err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := 100.0
	cs := models.Case{
		ID:              uuid.New(),
		ClientID:        clienteID,
		LawyerID:        abogadoID,
		Caratula:        "Pérez con Soto",
		Materia:         "Civil",
		Estado:          models.CaseActiva,
		FechaInicio:     &start,
		ModalidadCobro:  models.ModoAnticipado,
		MonedaHonorario: models.MonedaUF,
		HonorarioTotal:  &total,
	}
	if mutate != nil {
		mutate(&cs)
	}
	if err := db.Create(&cs).Error; err != nil {
		t.Fatal(err)
	}

	return seedResult{
		Abogado: Actor{ID: abogadoID, Role: models.RoleAbogado},
		Cliente: Actor{ID: clienteID, Role: models.RoleCliente},
		CaseID:  cs.ID,
	}
}

func mustGenerate(t *testing.T, svc *Service, actor Actor, caseID uuid.UUID) []models.Etapa {
	t.Helper()
	if err := svc.GenerateInitialStages(context.Background(), actor, caseID); err != nil {
		t.Fatalf("generate: %v", err)
	}
	var stages []models.Etapa
	if err := svc.db.Where("case_id = ?", caseID).Order("orden ASC").Find(&stages).Error; err != nil {
		t.Fatal(err)
	}
	return stages
}

/* ============================================================================
   Tests: generation, listing gate, payments, advance gate
   ============================================================================ */

// Generation persists the full civil stage set and refuses a second run.
func Test_GenerateInitialStages_OnceOnly(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)

	stages := mustGenerate(t, svc, seed.Abogado, seed.CaseID)
	if len(stages) != 9 {
		t.Fatalf("want 9 stages, got %d", len(stages))
	}
	if stages[0].Orden != 1 || *stages[0].CostoUF != 15.00 {
		t.Fatalf("unexpected first stage: %+v", stages[0])
	}

	err := svc.GenerateInitialStages(context.Background(), seed.Abogado, seed.CaseID)
	if !apperr.IsKind(err, apperr.KindPrecondition) {
		t.Fatalf("second generation should be refused, got %v", err)
	}
	var count int64
	db.Model(&models.Etapa{}).Where("case_id = ?", seed.CaseID).Count(&count)
	if count != 9 {
		t.Fatalf("stage set duplicated: %d rows", count)
	}
}

// With no explicit total the generator resolves the fee via the arancel.
func Test_GenerateInitialStages_ArancelLookup(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)

	arancel := models.Arancel{ID: uuid.New(), Nombre: "Juicio ordinario tipo", MontoUF: 80}
	if err := db.Create(&arancel).Error; err != nil {
		t.Fatal(err)
	}
	seed := seedCase(t, db, func(cs *models.Case) {
		cs.HonorarioTotal = nil
		cs.ArancelID = &arancel.ID
	})

	stages := mustGenerate(t, svc, seed.Abogado, seed.CaseID)
	var sum float64
	for _, st := range stages {
		if st.CostoUF != nil {
			sum += *st.CostoUF
		}
	}
	if round2(sum) != 80 {
		t.Fatalf("arancel total not distributed: sum %v", sum)
	}
}

// The client listing hides private stages and clips at the authorized
// advance; staff see everything.
func Test_ListStages_ClientVisibilityGate(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)
	mustGenerate(t, svc, seed.Abogado, seed.CaseID)

	// No gate: the client sees every public stage (8 of 9; stage 6 is internal).
	visible, err := svc.ListStages(context.Background(), seed.Cliente, seed.CaseID)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 8 {
		t.Fatalf("want 8 public stages, got %d", len(visible))
	}
	for _, st := range visible {
		if !st.EsPublica {
			t.Fatalf("private stage leaked: %+v", st)
		}
	}

	// Gate at order 3: only public stages 1..3 remain.
	if err := db.Model(&models.Case{}).Where("id = ?", seed.CaseID).
		Updates(map[string]any{"alcance_cliente_solicitado": 3, "alcance_cliente_autorizado": 3}).Error; err != nil {
		t.Fatal(err)
	}
	visible, err = svc.ListStages(context.Background(), seed.Cliente, seed.CaseID)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 3 {
		t.Fatalf("want 3 stages within the gate, got %d", len(visible))
	}
	for _, st := range visible {
		if st.Orden > 3 {
			t.Fatalf("stage beyond the gate leaked: orden %d", st.Orden)
		}
	}

	// Staff listing is unfiltered.
	all, err := svc.ListStages(context.Background(), seed.Abogado, seed.CaseID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 9 {
		t.Fatalf("staff should see all 9 stages, got %d", len(all))
	}
}

// A client cannot list another client's case.
func Test_ListStages_ForeignClientForbidden(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)
	mustGenerate(t, svc, seed.Abogado, seed.CaseID)

	intruder := Actor{ID: uuid.New(), Role: models.RoleCliente}
	_, err := svc.ListStages(context.Background(), intruder, seed.CaseID)
	if !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("want permission error, got %v", err)
	}
}

// Completing a payable stage requires a settled payment; the estado row is
// untouched by the refused attempt.
func Test_CompleteStage_PaymentGate(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)
	stages := mustGenerate(t, svc, seed.Abogado, seed.CaseID)
	first := stages[0]

	_, err := svc.CompleteStage(context.Background(), seed.Abogado, first.ID)
	if !apperr.IsKind(err, apperr.KindPrecondition) {
		t.Fatalf("want precondition error, got %v", err)
	}
	var after models.Etapa
	db.First(&after, "id = ?", first.ID)
	if after.Estado != models.StagePendiente {
		t.Fatalf("estado mutated to %s on refused completion", after.Estado)
	}

	// Pay in two installments, then complete.
	if _, err := svc.RegisterPayment(context.Background(), seed.Abogado, first.ID, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RegisterPayment(context.Background(), seed.Abogado, first.ID, 10); err != nil {
		t.Fatal(err)
	}
	st, err := svc.CompleteStage(context.Background(), seed.Abogado, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Estado != models.StageCompletado || st.FechaCumplida == nil {
		t.Fatalf("completion not applied: %+v", st)
	}
	if st.EstadoPago != models.PagoPagado || st.MontoPagadoUF != 15 {
		t.Fatalf("payment state wrong after installments: %+v", st)
	}
}

// The client role cannot mutate stages even if a handler guard is missing.
func Test_Mutations_ClientForbidden(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)
	stages := mustGenerate(t, svc, seed.Abogado, seed.CaseID)

	if _, err := svc.CompleteStage(context.Background(), seed.Cliente, stages[0].ID); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("complete: want permission error, got %v", err)
	}
	if _, err := svc.RegisterPayment(context.Background(), seed.Cliente, stages[0].ID, 5); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("pay: want permission error, got %v", err)
	}
	if err := svc.DeleteStage(context.Background(), seed.Cliente, stages[0].ID); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("delete: want permission error, got %v", err)
	}
}

// Deleting a stage leaves sibling dates and allocations untouched.
func Test_DeleteStage_NoCascade(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)
	stages := mustGenerate(t, svc, seed.Abogado, seed.CaseID)

	if err := svc.DeleteStage(context.Background(), seed.Abogado, stages[2].ID); err != nil {
		t.Fatal(err)
	}

	var rest []models.Etapa
	db.Where("case_id = ?", seed.CaseID).Order("orden ASC").Find(&rest)
	if len(rest) != 8 {
		t.Fatalf("want 8 remaining stages, got %d", len(rest))
	}
	for _, st := range rest {
		orig := stages[st.Orden-1]
		if !st.FechaProgramada.Equal(*orig.FechaProgramada) {
			t.Fatalf("stage %d date recomputed after delete", st.Orden)
		}
		if (st.CostoUF == nil) != (orig.CostoUF == nil) ||
			(st.CostoUF != nil && *st.CostoUF != *orig.CostoUF) {
			t.Fatalf("stage %d allocation recomputed after delete", st.Orden)
		}
	}
}

// Setting a payment link on a free stage makes it payable as a side effect.
func Test_SetPaymentLink_SideEffect(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, func(cs *models.Case) {
		cs.ModalidadCobro = models.ModoCuotas // no distribution: stages start free
	})
	stages := mustGenerate(t, svc, seed.Abogado, seed.CaseID)
	if stages[0].RequierePago {
		t.Fatal("precondition: stage should not require payment")
	}

	if _, err := svc.SetPaymentLink(context.Background(), seed.Abogado, stages[0].ID, "not a url"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatal("malformed link accepted")
	}

	st, err := svc.SetPaymentLink(context.Background(), seed.Abogado, stages[0].ID, "https://pagos.example.com/x1")
	if err != nil {
		t.Fatal(err)
	}
	if !st.RequierePago || st.EnlacePago == "" {
		t.Fatalf("link side effect missing: %+v", st)
	}
}

// Advance gate: the client's request never changes visibility, staff may
// authorize at most up to the request, and authorization never retreats.
func Test_AdvanceGate(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)
	mustGenerate(t, svc, seed.Abogado, seed.CaseID)
	ctx := context.Background()

	// Request beyond the last stage is invalid.
	if err := svc.RequestAdvance(ctx, seed.Cliente, seed.CaseID, 10); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("want validation error, got %v", err)
	}

	if err := svc.RequestAdvance(ctx, seed.Cliente, seed.CaseID, 5); err != nil {
		t.Fatal(err)
	}
	var cs models.Case
	db.First(&cs, "id = ?", seed.CaseID)
	if cs.AlcanceClienteSolicitado != 5 || cs.AlcanceClienteAutorizado != 0 {
		t.Fatalf("request changed authorization: %+v", cs)
	}

	// Authorizing beyond the request is refused.
	if err := svc.AuthorizeAdvance(ctx, seed.Abogado, seed.CaseID, 6); !apperr.IsKind(err, apperr.KindPrecondition) {
		t.Fatalf("want precondition error, got %v", err)
	}
	// The client role cannot authorize.
	if err := svc.AuthorizeAdvance(ctx, seed.Cliente, seed.CaseID, 3); !apperr.IsKind(err, apperr.KindPermission) {
		t.Fatalf("want permission error, got %v", err)
	}

	if err := svc.AuthorizeAdvance(ctx, seed.Abogado, seed.CaseID, 4); err != nil {
		t.Fatal(err)
	}
	// No backward movement.
	if err := svc.AuthorizeAdvance(ctx, seed.Abogado, seed.CaseID, 2); !apperr.IsKind(err, apperr.KindPrecondition) {
		t.Fatalf("authorization retreated, got %v", err)
	}
	db.First(&cs, "id = ?", seed.CaseID)
	if cs.AlcanceClienteAutorizado != 4 {
		t.Fatalf("authorized = %d, want 4", cs.AlcanceClienteAutorizado)
	}
}

// A write with a stale version is rejected as a conflict instead of
// overwriting a concurrent update, and the row keeps the winner's state.
func Test_SaveStage_StaleVersionConflict(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)
	stages := mustGenerate(t, svc, seed.Abogado, seed.CaseID)

	var stale models.Etapa
	if err := db.First(&stale, "id = ?", stages[0].ID).Error; err != nil {
		t.Fatal(err)
	}

	// Another writer commits first.
	if err := db.Exec("UPDATE etapas SET version = version + 1 WHERE id = ?", stale.ID).Error; err != nil {
		t.Fatal(err)
	}

	stale.MontoPagadoUF = 5
	stale.EstadoPago = models.PagoParcial
	err := saveStage(db, &stale)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("want conflict error, got %v", err)
	}

	var after models.Etapa
	if err := db.First(&after, "id = ?", stale.ID).Error; err != nil {
		t.Fatal(err)
	}
	if after.MontoPagadoUF != 0 || after.EstadoPago != models.PagoPendiente {
		t.Fatalf("stale write leaked through: %+v", after)
	}
	if after.Version != stale.Version+1 {
		t.Fatalf("version = %d, want the concurrent writer's %d", after.Version, stale.Version+1)
	}
}

// A payment link makes a new stage payable, so creating one without a
// cost is refused up front.
func Test_CreateStage_LinkNeedsCost(t *testing.T) {
	svc := NewService(nil) // validation fires before any DB work
	_, err := svc.CreateStage(context.Background(), Actor{ID: uuid.New(), Role: models.RoleAbogado},
		uuid.New(), CreateStageInput{
			Nombre:     "Gestión extraordinaria",
			EnlacePago: "https://pagos.example.com/x2",
		})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

// A partial update that echoes the current statuses is a no-op, not a
// rejected transition.
func Test_UpdateStage_EchoedStatusesAreNoOps(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)
	stages := mustGenerate(t, svc, seed.Abogado, seed.CaseID)

	estado := models.StagePendiente
	pago := models.PagoPendiente
	st, err := svc.UpdateStage(context.Background(), seed.Abogado, stages[0].ID, UpdateStageInput{
		Estado:     &estado,
		EstadoPago: &pago,
	})
	if err != nil {
		t.Fatalf("echoed statuses rejected: %v", err)
	}
	if st.Estado != models.StagePendiente || st.EstadoPago != models.PagoPendiente {
		t.Fatalf("statuses changed by no-op update: %+v", st)
	}
}

// Payment notes shown to clients are PII-redacted.
func Test_ListStages_RedactsNotesForClient(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	seed := seedCase(t, db, nil)
	stages := mustGenerate(t, svc, seed.Abogado, seed.CaseID)

	notas := "Coordinar con tesorería: pagos@estudio.cl, +56 9 1234 5678"
	if err := db.Model(&models.Etapa{}).Where("id = ?", stages[0].ID).
		Update("notas_pago", notas).Error; err != nil {
		t.Fatal(err)
	}

	visible, err := svc.ListStages(context.Background(), seed.Cliente, seed.CaseID)
	if err != nil {
		t.Fatal(err)
	}
	got := visible[0].NotasPago
	if got == notas || strings.Contains(got, "pagos@estudio.cl") || strings.Contains(got, "1234") {
		t.Fatalf("notes not redacted for client: %q", got)
	}

	all, _ := svc.ListStages(context.Background(), seed.Abogado, seed.CaseID)
	if all[0].NotasPago != notas {
		t.Fatalf("staff notes altered: %q", all[0].NotasPago)
	}
}
