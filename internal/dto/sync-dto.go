package dto

import (
	"time"

	"github.com/aarondl/null/v8"

	"moving-crm/internal/entities"
	isync "moving-crm/internal/sync"
)

// TriggerCycleDTO - тело POST /api/sync/trigger. Все поля необязательны.
type TriggerCycleDTO struct {
	Date       null.String `json:"date" validate:"omitempty,service_date"`
	BranchID   null.String `json:"branchId" validate:"omitempty,branch_id"`
	LocationID null.Int64  `json:"locationId" validate:"omitempty,gt=0"`
}

type TriggerBothDTO struct {
	BranchID   null.String `json:"branchId" validate:"omitempty,branch_id"`
	LocationID null.Int64  `json:"locationId" validate:"omitempty,gt=0"`
}

// filterFrom собирает фильтр цикла. Одновременно филиал и локацию указывать нельзя.
func filterFrom(branchID null.String, locationID null.Int64) (isync.Filter, bool) {
	if branchID.Valid && locationID.Valid {
		return isync.Filter{}, false
	}
	var f isync.Filter
	if branchID.Valid {
		f.BranchID = branchID.String
	}
	if locationID.Valid {
		f.LocationID = uint64(locationID.Int64)
	}
	return f, true
}

func (d TriggerCycleDTO) Filter() (isync.Filter, bool) { return filterFrom(d.BranchID, d.LocationID) }

func (d TriggerBothDTO) Filter() (isync.Filter, bool) { return filterFrom(d.BranchID, d.LocationID) }

// ServiceDate - дата цикла или nil, если не указана. Формат уже проверен валидатором.
func (d TriggerCycleDTO) ServiceDate() (*time.Time, error) {
	if !d.Date.Valid {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", d.Date.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type CycleReportDTO struct {
	CycleID      string `json:"cycleId"`
	Date         string `json:"date"`
	Filter       string `json:"filter,omitempty"`
	TriggeredBy  string `json:"triggeredBy"`
	Processed    int    `json:"processed"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Failed       int    `json:"failed"`
	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	StartedAt    string `json:"startedAt"`
	FinishedAt   string `json:"finishedAt"`
	DurationMs   int64  `json:"durationMs"`
}

func NewCycleReportDTO(r isync.CycleReport) CycleReportDTO {
	out := CycleReportDTO{
		CycleID:     r.CycleID.String(),
		Date:        r.Date,
		Filter:      r.Filter.String(),
		TriggeredBy: r.TriggeredBy,
		Processed:   r.Processed,
		Created:     r.Created,
		Updated:     r.Updated,
		Failed:      r.Failed,
		ErrorKind:   r.ErrorKind(),
		StartedAt:   r.StartedAt.Format(time.RFC3339),
		FinishedAt:  r.FinishedAt.Format(time.RFC3339),
		DurationMs:  r.Duration().Milliseconds(),
	}
	if r.Error != nil {
		out.ErrorMessage = r.Error.Error()
	}
	return out
}

type BothReportDTO struct {
	Today    CycleReportDTO `json:"today"`
	Tomorrow CycleReportDTO `json:"tomorrow"`
	Summary  isync.Totals   `json:"summary"`
}

func NewBothReportDTO(r isync.BothReport) BothReportDTO {
	return BothReportDTO{
		Today:    NewCycleReportDTO(r.Today),
		Tomorrow: NewCycleReportDTO(r.Tomorrow),
		Summary:  r.Summary,
	}
}

type SyncRunDTO struct {
	ID           uint64  `json:"id"`
	CycleID      string  `json:"cycleId"`
	SyncDate     string  `json:"syncDate"`
	BranchFilter *string `json:"branchFilter,omitempty"`
	Processed    int     `json:"processed"`
	Created      int     `json:"created"`
	Updated      int     `json:"updated"`
	Failed       int     `json:"failed"`
	ErrorKind    *string `json:"errorKind,omitempty"`
	ErrorMessage *string `json:"error,omitempty"`
	TriggeredBy  string  `json:"triggeredBy"`
	StartedAt    string  `json:"startedAt"`
	FinishedAt   string  `json:"finishedAt"`
}

func NewSyncRunDTO(r entities.SyncRun) SyncRunDTO {
	return SyncRunDTO{
		ID:           r.ID,
		CycleID:      r.CycleID.String(),
		SyncDate:     r.SyncDate.Format("2006-01-02"),
		BranchFilter: r.BranchFilter,
		Processed:    r.Processed,
		Created:      r.Created,
		Updated:      r.Updated,
		Failed:       r.Failed,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
		TriggeredBy:  r.TriggeredBy,
		StartedAt:    r.StartedAt.Format(time.RFC3339),
		FinishedAt:   r.FinishedAt.Format(time.RFC3339),
	}
}

type HealthDTO struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}
