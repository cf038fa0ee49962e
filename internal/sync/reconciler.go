package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"moving-crm/internal/entities"
	apperrors "moving-crm/pkg/errors"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionNoop    Action = "noop"
	ActionFailed  Action = "failed"
)

// Outcome - итог сверки одной записи.
type Outcome struct {
	ExternalID string
	Action     Action
	JourneyID  uint64
	Err        error
}

func failed(externalID string, err error) Outcome {
	return Outcome{ExternalID: externalID, Action: ActionFailed, Err: err}
}

// Reconciler вставляет или обновляет рейс по externalId, не трогая поля,
// которыми владеют люди (статус).
type Reconciler struct {
	journeys JourneyStore
	logger   *zap.Logger
}

func NewReconciler(journeys JourneyStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{journeys: journeys, logger: logger.Named("journey_reconciler")}
}

func (r *Reconciler) Reconcile(ctx context.Context, n NormalizedJourney, clientID, locationID, systemUserID uint64) Outcome {
	if n.Journey.ExternalID == nil || *n.Journey.ExternalID == "" {
		return failed("", apperrors.NewInvalidInputError("у работы SmartMoving нет номера"))
	}
	externalID := *n.Journey.ExternalID
	if locationID == 0 {
		return failed(externalID, apperrors.ErrLocationUnresolved)
	}

	existing, err := r.journeys.FindByExternalID(ctx, externalID)
	switch {
	case err == nil:
		return r.update(ctx, existing, n, systemUserID)
	case !errors.Is(err, apperrors.ErrNotFound):
		return failed(externalID, storeErr("поиск рейса", err))
	}

	journey := n.Journey
	journey.ClientID = clientID
	journey.LocationID = locationID
	journey.CreatedBy = systemUserID
	journey.DataSource = entities.DataSourceSmartMoving

	created, err := r.journeys.Insert(ctx, journey)
	if err == nil {
		return Outcome{ExternalID: externalID, Action: ActionCreated, JourneyID: created.ID}
	}
	if !errors.Is(err, apperrors.ErrAlreadyExists) {
		return failed(externalID, storeErr("вставка рейса", err))
	}

	// Параллельный цикл вставил ту же работу, идём по пути обновления один раз.
	existing, err = r.journeys.FindByExternalID(ctx, externalID)
	if err != nil {
		return failed(externalID, storeErr("повторный поиск рейса", err))
	}
	return r.update(ctx, existing, n, systemUserID)
}

func (r *Reconciler) update(ctx context.Context, existing *entities.TruckJourney, n NormalizedJourney, systemUserID uint64) Outcome {
	externalID := *n.Journey.ExternalID
	patch := BuildPatch(existing, n, systemUserID)
	changed := patch.HasContentChanges() || !JSONEqual(existing.ExternalData, patch.ExternalData)

	if _, err := r.journeys.Update(ctx, existing.ID, patch); err != nil {
		if errors.Is(err, apperrors.ErrStaleSync) {
			r.logger.Debug("Пропуск устаревшей записи", zap.String("external_id", externalID))
			return Outcome{ExternalID: externalID, Action: ActionNoop, JourneyID: existing.ID}
		}
		return failed(externalID, storeErr("обновление рейса", err))
	}

	action := ActionNoop
	if changed {
		action = ActionUpdated
	}
	return Outcome{ExternalID: externalID, Action: action, JourneyID: existing.ID}
}

// BuildPatch собирает обновление: метаданные синхронизации всегда,
// остальные поля только если пришло непустое и отличающееся значение.
// Статус не входит в патч никогда.
func BuildPatch(existing *entities.TruckJourney, n NormalizedJourney, systemUserID uint64) entities.JourneyPatch {
	in := n.Journey
	patch := entities.JourneyPatch{
		ExternalData: in.ExternalData,
		SyncStatus:   entities.SyncStatusSynced,
		UpdatedBy:    systemUserID,
	}
	if in.LastSyncAt != nil {
		patch.LastSyncAt = *in.LastSyncAt
	}

	// Дата из запасного now() не должна затирать сохранённую.
	if !n.HasWarning(WarningInvalidJobDate) {
		if !existing.ScheduledDate.Equal(in.ScheduledDate) {
			d := in.ScheduledDate
			patch.ScheduledDate = &d
		}
		if in.StartTime != nil && (existing.StartTime == nil || !existing.StartTime.Equal(*in.StartTime)) {
			st := *in.StartTime
			patch.StartTime = &st
		}
	}
	if in.EstimatedDuration > 0 && in.EstimatedDuration != existing.EstimatedDuration {
		d := in.EstimatedDuration
		patch.EstimatedDuration = &d
	}
	if in.Notes != nil && (existing.Notes == nil || *existing.Notes != *in.Notes) {
		s := *in.Notes
		patch.Notes = &s
	}
	if in.EstimatedCost.Valid && (!existing.EstimatedCost.Valid || !existing.EstimatedCost.Decimal.Equal(in.EstimatedCost.Decimal)) {
		c := in.EstimatedCost.Decimal
		patch.EstimatedCost = &c
	}
	if in.StartLocation != nil && !in.StartLocation.Equal(existing.StartLocation) {
		a := *in.StartLocation
		patch.StartLocation = &a
	}
	if in.EndLocation != nil && !in.EndLocation.Equal(existing.EndLocation) {
		a := *in.EndLocation
		patch.EndLocation = &a
	}
	return patch
}

// JSONEqual сравнивает два JSON-документа по смыслу, а не побайтно.
func JSONEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	var va, vb interface{}
	if err := json.Unmarshal(a, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, apperrors.ErrCancelled)
	}
	return fmt.Errorf("%w: %s: %v", apperrors.ErrStoreWrite, op, err)
}
