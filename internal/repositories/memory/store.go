// Package memory - хранилище в памяти с теми же ограничениями уникальности,
// что и PostgreSQL: (data_source, external_id) для локаций и externalId для рейсов.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"moving-crm/internal/entities"
	apperrors "moving-crm/pkg/errors"
)

type Store struct {
	mu sync.Mutex

	clients   map[uint64]entities.Client
	users     map[uint64]entities.User
	locations map[uint64]entities.Location
	journeys  map[uint64]entities.TruckJourney
	runs      []entities.SyncRun

	nextID uint64

	// FailJourneyWrites - если возвращает ошибку, запись рейса не выполняется.
	FailJourneyWrites func(externalID string) error

	locationCreates int
}

func NewStore() *Store {
	return &Store{
		clients:   make(map[uint64]entities.Client),
		users:     make(map[uint64]entities.User),
		locations: make(map[uint64]entities.Location),
		journeys:  make(map[uint64]entities.TruckJourney),
	}
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

// AddClient и AddUser - заполнение для тестов и локального запуска.
func (s *Store) AddClient(c entities.Client) entities.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	s.clients[c.ID] = c
	return c
}

func (s *Store) AddUser(u entities.User) entities.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.id()
	s.users[u.ID] = u
	return u
}

// --- TenantStore / UserStore ---

func (s *Store) FindByName(ctx context.Context, name string) (*entities.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.Name == name {
			out := c
			return &out, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *Store) FindSystemUser(ctx context.Context, role string) (*entities.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *entities.User
	for _, u := range s.users {
		if u.Role != role {
			continue
		}
		if found == nil || u.ID < found.ID {
			out := u
			found = &out
		}
	}
	if found == nil {
		return nil, apperrors.ErrNotFound
	}
	return found, nil
}

// --- LocationStore ---

func (s *Store) FindByRemoteBranch(ctx context.Context, branchID string) (*entities.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc, ok := s.locationByBranch(branchID); ok {
		return cloneLocation(loc), nil
	}
	return nil, apperrors.ErrNotFound
}

func (s *Store) locationByBranch(branchID string) (entities.Location, bool) {
	for _, l := range s.locations {
		if l.DataSource == entities.DataSourceSmartMoving && l.ExternalID != nil && *l.ExternalID == branchID {
			return l, true
		}
	}
	return entities.Location{}, false
}

func (s *Store) FindByID(ctx context.Context, id uint64) (*entities.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locations[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneLocation(l), nil
}

func (s *Store) Create(ctx context.Context, loc entities.Location) (*entities.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[loc.ClientID]; !ok {
		return nil, apperrors.ErrNotFound
	}
	if loc.ExternalID != nil {
		for _, l := range s.locations {
			if l.DataSource == loc.DataSource && l.ExternalID != nil && *l.ExternalID == *loc.ExternalID {
				return nil, apperrors.ErrAlreadyExists
			}
		}
	}
	now := time.Now()
	loc.ID = s.id()
	loc.CreatedAt = &now
	loc.UpdatedAt = &now
	s.locations[loc.ID] = *cloneLocation(loc)
	s.locationCreates++
	return cloneLocation(loc), nil
}

func (s *Store) TouchSynced(ctx context.Context, ids []uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if l, ok := s.locations[id]; ok {
			t := at
			l.LastSyncAt = &t
			s.locations[id] = l
		}
	}
	return nil
}

// Locations - все локации, упорядоченные по id.
func (s *Store) Locations() []entities.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.Location, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, *cloneLocation(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LocationCreates - сколько раз локация действительно создавалась.
func (s *Store) LocationCreates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locationCreates
}

// --- JourneyStore ---

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*entities.TruckJourney, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.journeyByExternalID(externalID); ok {
		return cloneJourney(j), nil
	}
	return nil, apperrors.ErrNotFound
}

func (s *Store) journeyByExternalID(externalID string) (entities.TruckJourney, bool) {
	for _, j := range s.journeys {
		if j.DataSource == entities.DataSourceSmartMoving && j.ExternalID != nil && *j.ExternalID == externalID {
			return j, true
		}
	}
	return entities.TruckJourney{}, false
}

func (s *Store) Insert(ctx context.Context, j entities.TruckJourney) (*entities.TruckJourney, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite(j.ExternalID); err != nil {
		return nil, err
	}
	if j.DataSource == entities.DataSourceSmartMoving && j.ExternalID != nil {
		if _, ok := s.journeyByExternalID(*j.ExternalID); ok {
			return nil, apperrors.ErrAlreadyExists
		}
	}
	if _, ok := s.locations[j.LocationID]; !ok {
		return nil, apperrors.ErrNotFound
	}
	now := time.Now()
	j.ID = s.id()
	j.CreatedAt = &now
	j.UpdatedAt = &now
	s.journeys[j.ID] = *cloneJourney(j)
	return cloneJourney(j), nil
}

func (s *Store) Update(ctx context.Context, id uint64, p entities.JourneyPatch) (*entities.TruckJourney, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.journeys[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if err := s.failWrite(j.ExternalID); err != nil {
		return nil, err
	}
	if j.LastSyncAt != nil && j.LastSyncAt.After(p.LastSyncAt) {
		return nil, apperrors.ErrStaleSync
	}

	at := p.LastSyncAt
	j.LastSyncAt = &at
	j.ExternalData = append(json.RawMessage(nil), p.ExternalData...)
	j.SyncStatus = p.SyncStatus
	updatedBy := p.UpdatedBy
	j.UpdatedBy = &updatedBy

	if p.ScheduledDate != nil {
		j.ScheduledDate = *p.ScheduledDate
	}
	if p.StartTime != nil {
		st := *p.StartTime
		j.StartTime = &st
	}
	if p.EstimatedDuration != nil {
		j.EstimatedDuration = *p.EstimatedDuration
	}
	if p.Notes != nil {
		n := *p.Notes
		j.Notes = &n
	}
	if p.EstimatedCost != nil {
		j.EstimatedCost.Decimal = *p.EstimatedCost
		j.EstimatedCost.Valid = true
	}
	if p.StartLocation != nil {
		a := *p.StartLocation
		j.StartLocation = &a
	}
	if p.EndLocation != nil {
		a := *p.EndLocation
		j.EndLocation = &a
	}
	now := time.Now()
	j.UpdatedAt = &now

	s.journeys[id] = j
	return cloneJourney(j), nil
}

func (s *Store) failWrite(externalID *string) error {
	if s.FailJourneyWrites == nil || externalID == nil {
		return nil
	}
	return s.FailJourneyWrites(*externalID)
}

func (s *Store) Count(ctx context.Context, f entities.JourneyFilter) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	for _, j := range s.journeys {
		if f.ClientID != 0 && j.ClientID != f.ClientID {
			continue
		}
		if f.LocationID != 0 && j.LocationID != f.LocationID {
			continue
		}
		if f.DataSource != "" && j.DataSource != f.DataSource {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.From != nil && j.ScheduledDate.Before(*f.From) {
			continue
		}
		if f.To != nil && !j.ScheduledDate.Before(*f.To) {
			continue
		}
		n++
	}
	return n, nil
}

// Journeys - все рейсы, упорядоченные по id.
func (s *Store) Journeys() []entities.TruckJourney {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.TruckJourney, 0, len(s.journeys))
	for _, j := range s.journeys {
		out = append(out, *cloneJourney(j))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetJourneyStatus имитирует внешний рабочий процесс, меняющий статус.
func (s *Store) SetJourneyStatus(id uint64, status entities.JourneyStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.journeys[id]; ok {
		j.Status = status
		s.journeys[id] = j
	}
}

// --- история циклов ---

func (s *Store) CreateSyncRun(ctx context.Context, run entities.SyncRun) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.CycleID == run.CycleID {
			return 0, apperrors.ErrAlreadyExists
		}
	}
	run.ID = s.id()
	s.runs = append(s.runs, run)
	return run.ID, nil
}

// ListSyncRuns - последние записи, новые первыми.
func (s *Store) ListSyncRuns(ctx context.Context, limit uint64) ([]entities.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.SyncRun, len(s.runs))
	copy(out, s.runs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneLocation(l entities.Location) *entities.Location {
	out := l
	out.ExternalData = append(json.RawMessage(nil), l.ExternalData...)
	if l.ExternalID != nil {
		id := *l.ExternalID
		out.ExternalID = &id
	}
	if l.Address != nil {
		a := *l.Address
		out.Address = &a
	}
	return &out
}

func cloneJourney(j entities.TruckJourney) *entities.TruckJourney {
	out := j
	out.ExternalData = append(json.RawMessage(nil), j.ExternalData...)
	out.Tags = append([]string(nil), j.Tags...)
	if j.ExternalID != nil {
		id := *j.ExternalID
		out.ExternalID = &id
	}
	if j.Notes != nil {
		n := *j.Notes
		out.Notes = &n
	}
	if j.StartLocation != nil {
		a := *j.StartLocation
		out.StartLocation = &a
	}
	if j.EndLocation != nil {
		a := *j.EndLocation
		out.EndLocation = &a
	}
	return &out
}
