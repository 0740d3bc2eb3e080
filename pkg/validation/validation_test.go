package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type launchWindow struct {
	Minutes int `json:"minutes" validate:"gt=0"`
}

type launchRequest struct {
	Name    string       `json:"name" validate:"required"`
	Mode    string       `json:"mode" validate:"required,oneof=FAST SLOW"`
	Retries int          `json:"retries" validate:"gte=0"`
	Window  launchWindow `json:"window"`
}

func fieldMessages(errs ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field] = e.Message
	}
	return out
}

func TestStructValidReturnsNil(t *testing.T) {
	errs := Struct(launchRequest{
		Name:    "alpha",
		Mode:    "FAST",
		Retries: 0,
		Window:  launchWindow{Minutes: 5},
	})
	assert.Nil(t, errs)
}

func TestStructReportsJSONNames(t *testing.T) {
	errs := Struct(launchRequest{
		Mode:    "WARP",
		Retries: -1,
		Window:  launchWindow{Minutes: 5},
	})
	require.Len(t, errs, 3)

	fields := fieldMessages(errs)
	assert.Equal(t, "is required", fields["name"])
	assert.Equal(t, "must be one of [FAST SLOW]", fields["mode"])
	assert.Equal(t, "must be greater than or equal to 0", fields["retries"])
}

func TestStructReportsNestedFieldPath(t *testing.T) {
	errs := Struct(launchRequest{
		Name:    "alpha",
		Mode:    "SLOW",
		Retries: 1,
		Window:  launchWindow{Minutes: 0},
	})
	require.Len(t, errs, 1)
	assert.Equal(t, "window.minutes", errs[0].Field)
	assert.Equal(t, "must be greater than 0", errs[0].Message)
}

func TestValidationErrorsError(t *testing.T) {
	var errs ValidationErrors
	errs.Add("name", "is required")
	errs.Add("mode", "must be one of [FAST SLOW]")

	assert.Equal(t, "name: is required; mode: must be one of [FAST SLOW]", errs.Error())
}

func TestAddAppends(t *testing.T) {
	var errs ValidationErrors
	assert.Empty(t, errs)

	errs.Add("condition.type", "is required")
	require.Len(t, errs, 1)
	assert.Equal(t, "condition.type", errs[0].Field)
}
