package repositories

import (
	"context"
	"log"
	"os"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moving-crm/internal/entities"
	"moving-crm/pkg/database/migrations"
	apperrors "moving-crm/pkg/errors"
)

var testPool *pgxpool.Pool

// TestMain подключается к TEST_DATABASE_URL и применяет миграции.
// Без переменной интеграционные тесты пропускаются.
func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		var err error
		testPool, err = pgxpool.New(context.Background(), dsn)
		if err != nil {
			log.Fatalf("Не удалось подключиться к тестовой БД: %v", err)
		}
		if err := migrations.Up(context.Background(), testPool, zap.NewNop()); err != nil {
			log.Fatalf("Не удалось применить миграции: %v", err)
		}
	}

	code := m.Run()
	if testPool != nil {
		testPool.Close()
	}
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testPool == nil {
		t.Skip("TEST_DATABASE_URL не задан")
	}
	_, err := testPool.Exec(context.Background(),
		`TRUNCATE TABLE sync_runs, truck_journeys, locations, users, clients RESTART IDENTITY CASCADE;`)
	require.NoError(t, err, "Не удалось очистить таблицы")
}

func seedTenant(t *testing.T) (*entities.Client, *entities.User) {
	t.Helper()
	ctx := context.Background()
	client, err := NewClientRepository(testPool, zap.NewNop()).CreateClient(ctx, nil, entities.Client{
		Name: "Lets Get Moving", Timezone: "America/Toronto",
	})
	require.NoError(t, err)
	user, err := NewUserRepository(testPool, zap.NewNop()).CreateUser(ctx, nil, entities.User{
		ClientID: &client.ID, Fio: "System", Email: "system@example.com", Role: entities.RoleAdmin, Password: "x",
	})
	require.NoError(t, err)
	return client, user
}

func strPtr(s string) *string { return &s }

func TestLocationRepository_Integration_UniqueBranch(t *testing.T) {
	requireDB(t)
	client, _ := seedTenant(t)
	repo := NewLocationRepository(testPool, zap.NewNop())
	ctx := context.Background()

	loc := entities.Location{
		ClientID: client.ID, Name: "CALGARY", Timezone: "America/Toronto",
		DataSource: entities.DataSourceSmartMoving, ExternalID: strPtr("b1"),
		ExternalData: []byte(`{"branch":{"id":"b1","name":"CALGARY"}}`),
	}

	const n = 8
	var wg stdsync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = repo.Create(ctx, loc)
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range results {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	}
	assert.Equal(t, 1, created)

	found, err := repo.FindByRemoteBranch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "CALGARY", found.Name)

	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.TouchSynced(ctx, []uint64{found.ID}, at))
	found, err = repo.FindByID(ctx, found.ID)
	require.NoError(t, err)
	require.NotNil(t, found.LastSyncAt)
	assert.True(t, found.LastSyncAt.Equal(at))

	_, err = repo.FindByRemoteBranch(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestJourneyRepository_Integration_InsertUpdate(t *testing.T) {
	requireDB(t)
	client, user := seedTenant(t)
	ctx := context.Background()
	loc, err := NewLocationRepository(testPool, zap.NewNop()).Create(ctx, entities.Location{
		ClientID: client.ID, Name: "CALGARY", Timezone: "America/Toronto",
		DataSource: entities.DataSourceSmartMoving, ExternalID: strPtr("b1"),
	})
	require.NoError(t, err)

	repo := NewJourneyRepository(testPool, NewTxManager(testPool), zap.NewNop())
	synced := time.Now().UTC().Truncate(time.Microsecond)
	day := time.Date(2025, 8, 7, 4, 0, 0, 0, time.UTC)

	journey := entities.TruckJourney{
		ExternalID: strPtr("sm_job_249671-1"), ClientID: client.ID, LocationID: loc.ID,
		ScheduledDate: day, StartTime: &day, EstimatedDuration: 480,
		Status: entities.JourneyStatusMorningPrep, Priority: entities.PriorityNormal,
		BillingStatus: entities.BillingStatusPending, Notes: strPtr("SmartMoving Job #249671-1 - Aayush Sharma"),
		Tags:          []string{"FULL", "SmartMoving"},
		EstimatedCost: decimal.NewNullDecimal(decimal.RequireFromString("2500.00")),
		StartLocation: &entities.JourneyAddress{Address: "123 Main St, Toronto"},
		DataSource:    entities.DataSourceSmartMoving, LastSyncAt: &synced,
		SyncStatus: entities.SyncStatusSynced, ExternalData: []byte(`{"source":"SMARTMOVING"}`),
		CreatedBy: user.ID,
	}

	created, err := repo.Insert(ctx, journey)
	require.NoError(t, err)
	assert.Equal(t, []string{"FULL", "SmartMoving"}, created.Tags)
	assert.True(t, created.EstimatedCost.Decimal.Equal(decimal.RequireFromString("2500")))
	assert.Equal(t, "123 Main St, Toronto", created.StartLocation.Address)
	assert.Nil(t, created.EndLocation)

	_, err = repo.Insert(ctx, journey)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	// Внешний процесс завершил рейс.
	_, err = testPool.Exec(ctx, `UPDATE truck_journeys SET status = 'COMPLETED' WHERE id = $1`, created.ID)
	require.NoError(t, err)

	cost := decimal.RequireFromString("3100.50")
	later := synced.Add(time.Hour)
	updated, err := repo.Update(ctx, created.ID, entities.JourneyPatch{
		ExternalData:  []byte(`{"source":"SMARTMOVING","v":2}`),
		LastSyncAt:    later,
		SyncStatus:    entities.SyncStatusSynced,
		UpdatedBy:     user.ID,
		EstimatedCost: &cost,
		EndLocation:   &entities.JourneyAddress{Address: "456 Oak Ave, Ottawa"},
	})
	require.NoError(t, err)
	assert.Equal(t, entities.JourneyStatusCompleted, updated.Status)
	assert.True(t, updated.EstimatedCost.Decimal.Equal(cost))
	assert.Equal(t, "456 Oak Ave, Ottawa", updated.EndLocation.Address)
	assert.True(t, updated.LastSyncAt.Equal(later))
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, user.ID, *updated.UpdatedBy)

	_, err = repo.Update(ctx, created.ID, entities.JourneyPatch{
		ExternalData: []byte(`{}`), LastSyncAt: synced, SyncStatus: entities.SyncStatusSynced, UpdatedBy: user.ID,
	})
	assert.ErrorIs(t, err, apperrors.ErrStaleSync)

	count, err := repo.Count(ctx, entities.JourneyFilter{DataSource: entities.DataSourceSmartMoving})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestSyncRunRepository_Integration_CreateList(t *testing.T) {
	requireDB(t)
	repo := NewSyncRunRepository(testPool, zap.NewNop())
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		kind := "RemoteRejected"
		run := entities.SyncRun{
			CycleID:     uuid.New(),
			SyncDate:    time.Date(2025, 8, 7, 0, 0, 0, 0, time.UTC),
			Processed:   i,
			TriggeredBy: "scheduler",
			StartedAt:   start.Add(time.Duration(i) * time.Minute),
			FinishedAt:  start.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if i == 2 {
			run.ErrorKind = &kind
		}
		_, err := repo.CreateSyncRun(ctx, run)
		require.NoError(t, err)
	}

	runs, err := repo.ListSyncRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Processed)
	require.NotNil(t, runs[0].ErrorKind)
	assert.Equal(t, "RemoteRejected", *runs[0].ErrorKind)
	assert.Nil(t, runs[1].ErrorKind)
}

func TestClientAndUserRepository_Integration(t *testing.T) {
	requireDB(t)
	client, user := seedTenant(t)
	ctx := context.Background()

	found, err := NewClientRepository(testPool, zap.NewNop()).FindByName(ctx, "Lets Get Moving")
	require.NoError(t, err)
	assert.Equal(t, client.ID, found.ID)

	sys, err := NewUserRepository(testPool, zap.NewNop()).FindSystemUser(ctx, entities.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, user.ID, sys.ID)

	_, err = NewClientRepository(testPool, zap.NewNop()).FindByName(ctx, "nobody")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
