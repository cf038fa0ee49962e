package sync

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"moving-crm/internal/entities"
	"moving-crm/internal/integrations/dto"
)

const (
	ExternalIDPrefix         = "sm_job_"
	DefaultEstimatedDuration = 480
	UnknownBranchKey         = "unknown"
	UnknownLocationName      = "Unknown Location"

	sourceTag = "SmartMoving"

	WarningInvalidJobDate  = "invalid_job_date"
	WarningDefaultDuration = "default_duration"
	WarningMissingJobNum   = "missing_job_number"
)

// Triple - одна работа вместе с её сделкой и клиентом.
type Triple struct {
	Customer    dto.Customer
	Opportunity dto.Opportunity
	Job         dto.Job
}

// BranchID - идентификатор филиала сделки или "" если филиал не указан.
func (t Triple) BranchID() string {
	if t.Opportunity.Branch == nil {
		return ""
	}
	return strings.TrimSpace(t.Opportunity.Branch.ID.String())
}

// Flatten разворачивает страницу клиентов в плоский список работ.
func Flatten(customers []dto.Customer) []Triple {
	var out []Triple
	for _, c := range customers {
		for _, o := range c.Opportunities {
			for _, j := range o.Jobs {
				out = append(out, Triple{Customer: c, Opportunity: o, Job: j})
			}
		}
	}
	return out
}

// BranchKey - ключ филиала для поиска локации: пустой филиал становится "unknown".
func (t Triple) BranchKey() string {
	if id := t.BranchID(); id != "" {
		return id
	}
	return UnknownBranchKey
}

// NormalizedJourney - рейс без локации плюс данные для её определения.
type NormalizedJourney struct {
	Journey  entities.TruckJourney
	Branch   dto.Branch
	Warnings []string
}

func (n NormalizedJourney) HasWarning(w string) bool {
	for _, x := range n.Warnings {
		if x == w {
			return true
		}
	}
	return false
}

// OriginAddress - адрес погрузки, если он есть.
func (n NormalizedJourney) OriginAddress() *string {
	if n.Journey.StartLocation == nil {
		return nil
	}
	addr := n.Journey.StartLocation.Address
	return &addr
}

type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

func NewNormalizer(loc *time.Location, now func() time.Time) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{loc: loc, now: now}
}

type customerSnapshot struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

type opportunitySnapshot struct {
	ID             string              `json:"id"`
	QuoteNumber    string              `json:"quoteNumber,omitempty"`
	Status         string              `json:"status,omitempty"`
	EstimatedTotal *decimal.NullDecimal `json:"estimatedTotal,omitempty"`
	Branch         *dto.Branch         `json:"branch,omitempty"`
}

type externalPayload struct {
	Source      string              `json:"source"`
	Customer    customerSnapshot    `json:"customer"`
	Opportunity opportunitySnapshot `json:"opportunity"`
	Job         json.RawMessage     `json:"job"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// Normalize никогда не падает: кривые поля заменяются значениями по умолчанию
// и отмечаются в externalData.warnings.
func (n *Normalizer) Normalize(t Triple) NormalizedJourney {
	now := n.now()
	var warnings []string

	jobNumber := strings.TrimSpace(t.Job.JobNumber.String())
	var externalID *string
	if jobNumber != "" {
		id := ExternalIDPrefix + jobNumber
		externalID = &id
	} else {
		warnings = append(warnings, WarningMissingJobNum)
	}

	scheduled, ok := parseServiceDate(t.Job.JobDate.String(), n.loc)
	if !ok {
		warnings = append(warnings, WarningInvalidJobDate)
		scheduled = now.In(n.loc)
	}
	startTime := startOfDay(scheduled, n.loc)

	duration, ok := parseDuration(t.Job.EstimatedDuration.String())
	if !ok {
		warnings = append(warnings, WarningDefaultDuration)
		duration = DefaultEstimatedDuration
	}

	var branch dto.Branch
	if t.Opportunity.Branch != nil {
		branch = *t.Opportunity.Branch
	}

	journey := entities.TruckJourney{
		ExternalID:        externalID,
		ScheduledDate:     scheduled,
		StartTime:         &startTime,
		EstimatedDuration: duration,
		Status:            entities.JourneyStatusMorningPrep,
		Priority:          entities.PriorityNormal,
		BillingStatus:     entities.BillingStatusPending,
		TruckNumber:       strings.TrimSpace(t.Job.TruckNumber),
		Notes:             notes(jobNumber, t.Customer.Name),
		Tags:              tags(t.Job.ServiceType.String()),
		EstimatedCost:     estimatedCost(t),
		StartLocation:     address(t.Job.JobAddresses, 0),
		EndLocation:       address(t.Job.JobAddresses, 1),
		DataSource:        entities.DataSourceSmartMoving,
		LastSyncAt:        &now,
		SyncStatus:        entities.SyncStatusSynced,
		ExternalData:      externalData(t, warnings),
	}

	return NormalizedJourney{Journey: journey, Branch: branch, Warnings: warnings}
}

func parseServiceDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 8 {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation("20060102", raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func parseDuration(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int(math.Round(f)), true
}

func notes(jobNumber, customerName string) *string {
	s := fmt.Sprintf("SmartMoving Job #%s - %s", jobNumber, strings.TrimSpace(customerName))
	return &s
}

func tags(serviceType string) []string {
	out := make([]string, 0, 2)
	for _, tag := range []string{strings.TrimSpace(serviceType), sourceTag} {
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func estimatedCost(t Triple) decimal.NullDecimal {
	if t.Job.EstimatedTotal != nil && t.Job.EstimatedTotal.FinalTotal.Valid {
		return t.Job.EstimatedTotal.FinalTotal
	}
	if t.Opportunity.EstimatedTotal != nil && t.Opportunity.EstimatedTotal.FinalTotal.Valid {
		return t.Opportunity.EstimatedTotal.FinalTotal
	}
	return decimal.NullDecimal{}
}

func address(list []dto.JobAddress, i int) *entities.JourneyAddress {
	if i >= len(list) {
		return nil
	}
	a := strings.TrimSpace(string(list[i]))
	if a == "" {
		return nil
	}
	return &entities.JourneyAddress{Address: a}
}

func externalData(t Triple, warnings []string) json.RawMessage {
	job := t.Job.Raw
	if len(job) == 0 {
		job, _ = json.Marshal(t.Job)
	}

	opp := opportunitySnapshot{
		ID:          t.Opportunity.ID.String(),
		QuoteNumber: t.Opportunity.QuoteNumber.String(),
		Status:      t.Opportunity.Status.String(),
		Branch:      t.Opportunity.Branch,
	}
	if t.Opportunity.EstimatedTotal != nil {
		total := t.Opportunity.EstimatedTotal.FinalTotal
		opp.EstimatedTotal = &total
	}

	payload := externalPayload{
		Source: string(entities.DataSourceSmartMoving),
		Customer: customerSnapshot{
			ID:           t.Customer.ID.String(),
			Name:         t.Customer.Name,
			PhoneNumber:  t.Customer.PhoneNumber,
			EmailAddress: t.Customer.EmailAddress,
		},
		Opportunity: opp,
		Job:         job,
		Warnings:    warnings,
	}

	// Маршалинг структуры без map детерминирован.
	data, err := json.Marshal(payload)
	if err != nil {
		// Невалидный исходный JSON работы: сохраняем без него.
		payload.Job = json.RawMessage("null")
		data, _ = json.Marshal(payload)
	}
	return data
}
