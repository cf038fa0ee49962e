package validation

import (
	"testing"

	"github.com/aarondl/null/v8"
	"github.com/stretchr/testify/assert"
)

type triggerRequest struct {
	Date       null.String `validate:"omitempty,service_date"`
	BranchID   null.String `validate:"omitempty,branch_id"`
	LocationID null.Int64  `validate:"omitempty,gt=0"`
	Limit      null.Int    `validate:"omitempty,min=1,max=500"`
}

func TestValidator_NullFields(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(triggerRequest{}))
	assert.NoError(t, v.Validate(triggerRequest{
		Date:       null.StringFrom("2025-08-07"),
		BranchID:   null.StringFrom("b1"),
		LocationID: null.Int64From(3),
		Limit:      null.IntFrom(50),
	}))

	cases := map[string]triggerRequest{
		"compact date":   {Date: null.StringFrom("20250807")},
		"impossible day": {Date: null.StringFrom("2025-02-30")},
		"branch spaces":  {BranchID: null.StringFrom("b 1")},
		"negative id":    {LocationID: null.Int64From(-1)},
		"limit too big":  {Limit: null.IntFrom(501)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, v.Validate(req))
		})
	}
}
