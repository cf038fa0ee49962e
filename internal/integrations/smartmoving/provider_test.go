package smartmoving

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "moving-crm/pkg/errors"
)

const samplePage = `{
  "pageResults": [{
    "id": "c1", "name": "Aayush Sharma", "phoneNumber": "4165550100", "emailAddress": "a@example.com",
    "opportunities": [{
      "id": "o1", "quoteNumber": 249671, "status": 3,
      "estimatedTotal": {"finalTotal": 2500.00},
      "branch": {"id": "b1", "name": "CALGARY"},
      "jobs": [{
        "id": "j1", "jobNumber": "249671-1", "jobDate": 20250807,
        "jobAddresses": ["123 Main St, Toronto", {"fullAddress": "456 Oak Ave, Ottawa"}],
        "serviceType": "FULL", "estimatedDuration": 480, "confirmed": true
      }]
    }]
  }],
  "totalPages": 1,
  "lastPage": true
}`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Options{
		BaseURL:        srv.URL + "/v1",
		APIKey:         "secret",
		RequestTimeout: time.Second,
		PageBudget:     5 * time.Second,
		MaxAttempts:    3,
		RetryBase:      time.Millisecond,
		RetryCap:       5 * time.Millisecond,
	}, zap.NewNop())
}

func TestListCustomersByServiceDate_EncodesRequest(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/api/customers", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "20250807", q.Get("FromServiceDate"))
		assert.Equal(t, "20250807", q.Get("ToServiceDate"))
		assert.Equal(t, "true", q.Get("IncludeOpportunityInfo"))
		assert.Equal(t, "2", q.Get("Page"))
		assert.Equal(t, "100", q.Get("PageSize"))
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(samplePage))
	})

	date := time.Date(2025, 8, 7, 0, 0, 0, 0, time.UTC)
	page, err := p.ListCustomersByServiceDate(context.Background(), date, 2, 100)
	require.NoError(t, err)
	require.Len(t, page.Customers, 1)
	assert.Equal(t, 1, page.TotalPages)
	assert.True(t, page.LastPage)

	opp := page.Customers[0].Opportunities[0]
	assert.Equal(t, "249671", opp.QuoteNumber.String())
	assert.Equal(t, "b1", opp.Branch.ID.String())
	assert.Equal(t, "2500", opp.EstimatedTotal.FinalTotal.Decimal.String())

	job := opp.Jobs[0]
	assert.Equal(t, "20250807", job.JobDate.String())
	require.Len(t, job.JobAddresses, 2)
	assert.Equal(t, "456 Oak Ave, Ottawa", string(job.JobAddresses[1]))
	assert.Contains(t, string(job.Raw), `"jobNumber": "249671-1"`)
}

func TestListCustomersByServiceDate_RetriesTransient(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(samplePage))
	})

	page, err := p.ListCustomersByServiceDate(context.Background(), time.Now(), 1, 100)
	require.NoError(t, err)
	assert.Len(t, page.Customers, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestListCustomersByServiceDate_TooManyRequestsIsTransient(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(samplePage))
	})

	_, err := p.ListCustomersByServiceDate(context.Background(), time.Now(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestListCustomersByServiceDate_UnavailableAfterRetries(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.ListCustomersByServiceDate(context.Background(), time.Now(), 1, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRemoteUnavailable)
	assert.Equal(t, "RemoteUnavailable", apperrors.Kind(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestListCustomersByServiceDate_RejectedIsNotRetried(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	})

	_, err := p.ListCustomersByServiceDate(context.Background(), time.Now(), 1, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRemoteRejected)

	var remoteErr *apperrors.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusUnauthorized, remoteErr.StatusCode)
	assert.Contains(t, remoteErr.Body, "invalid api key")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestListCustomersByServiceDate_DecodeFailure(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"pageResults": "oops"`))
	})

	_, err := p.ListCustomersByServiceDate(context.Background(), time.Now(), 1, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRemoteDecode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestListCustomersByServiceDate_CallerCancellation(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ListCustomersByServiceDate(ctx, time.Now(), 1, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCancelled)
}

func TestServiceDate(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	assert.Equal(t, 20251231, ServiceDate(time.Date(2025, 12, 31, 23, 30, 0, 0, loc)))
	assert.Equal(t, 20250101, ServiceDate(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestListCustomersByServiceDate_RejectedBodyExcerptKeepsRunes(t *testing.T) {
	body := "x" + strings.Repeat("я", 400)
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(body))
	})

	_, err := p.ListCustomersByServiceDate(context.Background(), time.Now(), 1, 100)
	var remoteErr *apperrors.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.True(t, utf8.ValidString(remoteErr.Body))
	assert.True(t, strings.HasSuffix(remoteErr.Body, "…"))
	assert.LessOrEqual(t, len(strings.TrimSuffix(remoteErr.Body, "…")), maxBodyExcerpt)
}
