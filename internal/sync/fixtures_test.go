package sync_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moving-crm/internal/integrations/dto"
)

const tenantName = "Lets Get Moving"

var toronto = mustLoad("America/Toronto")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// aug7 - дата из сценариев, полночь в Торонто.
var aug7 = time.Date(2025, 8, 7, 0, 0, 0, 0, toronto)

const calgaryPage = `{
  "pageResults": [{
    "id": "c1", "name": "Aayush Sharma", "phoneNumber": "4165550100",
    "opportunities": [{
      "id": "o1", "quoteNumber": "249671",
      "branch": {"id": "b1", "name": "CALGARY"},
      "estimatedTotal": {"finalTotal": 2500.00},
      "jobs": [{
        "id": "j1", "jobNumber": "249671-1", "jobDate": 20250807,
        "jobAddresses": ["123 Main St, Toronto", "456 Oak Ave, Ottawa"],
        "serviceType": "FULL", "estimatedDuration": 480
      }]
    }]
  }],
  "totalPages": 1,
  "lastPage": true
}`

const twoBranchPage = `{
  "pageResults": [{
    "id": "c1", "name": "Aayush Sharma",
    "opportunities": [{
      "id": "o1", "quoteNumber": "249671",
      "branch": {"id": "b1", "name": "CALGARY"},
      "estimatedTotal": {"finalTotal": 2500.00},
      "jobs": [{
        "id": "j1", "jobNumber": "249671-1", "jobDate": 20250807,
        "jobAddresses": ["123 Main St, Toronto", "456 Oak Ave, Ottawa"],
        "serviceType": "FULL", "estimatedDuration": 480
      }]
    }]
  }, {
    "id": "c2", "name": "Mei Lin",
    "opportunities": [{
      "id": "o2", "quoteNumber": "310002",
      "branch": {"id": "b2", "name": "VANCOUVER"},
      "jobs": [{
        "id": "j2", "jobNumber": "310002-1", "jobDate": 20250807,
        "jobAddresses": ["1 Robson St, Vancouver"],
        "serviceType": "PACKING", "estimatedDuration": 240
      }]
    }]
  }],
  "totalPages": 1,
  "lastPage": true
}`

func decodePage(t *testing.T, raw string) []dto.Customer {
	t.Helper()
	var resp dto.CustomersResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	return resp.PageResults
}

// customersWithJobs строит n клиентов по одной работе в филиале b1.
func customersWithJobs(t *testing.T, n int) []dto.Customer {
	t.Helper()
	out := make([]dto.Customer, 0, n)
	for i := 1; i <= n; i++ {
		raw := fmt.Sprintf(`{
		  "id": "c%d", "name": "Customer %d",
		  "opportunities": [{"id": "o%d", "branch": {"id": "b1", "name": "CALGARY"},
		    "jobs": [{"id": "j%d", "jobNumber": "%d-1", "jobDate": 20250807, "estimatedDuration": 120}]}]
		}`, i, i, i, i, 1000+i)
		var c dto.Customer
		require.NoError(t, json.Unmarshal([]byte(raw), &c))
		out = append(out, c)
	}
	return out
}
