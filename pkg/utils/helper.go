package utils

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nvaldesp/estudio-backend/pkg/models"
)

// LogEtapaHistory inserts an audit record into etapa_histories.
// Used to track stage generation, completion, payments and deletions.
// Errors are ignored on purpose (best-effort logging).
func LogEtapaHistory(
	ctx context.Context,
	db *gorm.DB,
	caseID, actorID uuid.UUID,
	etapaID *uuid.UUID,
	action string,
	oldS, newS models.StageStatus,
	detail string,
) {
	_ = db.WithContext(ctx).Create(&models.EtapaHistory{
		CaseID:    caseID,
		EtapaID:   etapaID,
		ActorID:   actorID,
		Action:    action,
		OldEstado: oldS,
		NewEstado: newS,
		Detail:    detail,
		CreatedAt: time.Now(),
	}).Error
}
