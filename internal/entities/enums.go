package entities

// DataSource - откуда пришла запись.
type DataSource string

const (
	DataSourceSmartMoving DataSource = "SMARTMOVING"
	DataSourceManual      DataSource = "MANUAL"
)

type JourneyStatus string

const (
	JourneyStatusMorningPrep JourneyStatus = "MORNING_PREP"
	JourneyStatusEnRoute     JourneyStatus = "EN_ROUTE"
	JourneyStatusOnsite      JourneyStatus = "ONSITE"
	JourneyStatusCompleted   JourneyStatus = "COMPLETED"
	JourneyStatusAudited     JourneyStatus = "AUDITED"
)

// IsFinal - статусы, которые синхронизация не трогает ни при каких условиях.
func (s JourneyStatus) IsFinal() bool {
	return s == JourneyStatusCompleted || s == JourneyStatusAudited
}

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "PENDING"
	SyncStatusSynced  SyncStatus = "SYNCED"
	SyncStatusFailed  SyncStatus = "FAILED"
)

const (
	PriorityNormal       = "NORMAL"
	BillingStatusPending = "PENDING"
	RoleAdmin            = "ADMIN"
)
