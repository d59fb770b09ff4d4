package notifications

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBindings_BodyAndDetailArray(t *testing.T) {
	b, err := BuildBindings([]byte(`{"name":"Jo"}`), []byte(`[{"q":1}]`))
	require.NoError(t, err)

	assert.Equal(t, "Jo", b["name"])
	assert.Equal(t, map[string]any{"name": "Jo"}, b["main"])

	details, ok := b["details"].([]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	assert.Equal(t, int64(1), details[0].(map[string]any)["q"])

	lines, ok := b["lines"].([]any)
	require.True(t, ok)
	assert.Equal(t, int64(1), lines[0].(map[string]any)["q"])
}

func TestBuildBindings_DetailObject(t *testing.T) {
	b, err := BuildBindings([]byte(`{}`), []byte(`{"count":3,"rows":[{"x":1}]}`))
	require.NoError(t, err)

	assert.Equal(t, int64(3), b["count"])
	expected := []any{map[string]any{"x": int64(1)}}
	assert.Equal(t, expected, b["rows"])
	assert.Equal(t, expected, b["details"])
	assert.Equal(t, expected, b["lines"])
	assert.Equal(t, map[string]any{}, b["main"])
}

func TestBuildBindings_DetailObjectWithTwoArrays(t *testing.T) {
	b, err := BuildBindings(nil, []byte(`{"a":[1],"b":[2]}`))
	require.NoError(t, err)

	assert.NotContains(t, b, "details")
	assert.NotContains(t, b, "lines")
	assert.Equal(t, []any{int64(1)}, b["a"])
}

func TestBuildBindings_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		detail string
		field  string
	}{
		{"detail bare string", `{"a":1}`, `"text"`, "detail"},
		{"detail number", ``, `42`, "detail"},
		{"body array", `[1,2]`, ``, "body"},
		{"body string", `"hello"`, ``, "body"},
		{"body invalid json", `{"a":`, ``, "body"},
		{"detail trailing data", ``, `[1] [2]`, "detail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildBindings([]byte(tt.body), []byte(tt.detail))
			require.Error(t, err)

			var dataErr *TemplateDataError
			require.ErrorAs(t, err, &dataErr)
			assert.Equal(t, tt.field, dataErr.Field)
		})
	}
}

func TestBuildBindings_Absent(t *testing.T) {
	b, err := BuildBindings(nil, []byte("null"))
	require.NoError(t, err)
	assert.Empty(t, b)

	b, err = BuildBindings([]byte("  "), nil)
	require.NoError(t, err)
	assert.NotContains(t, b, "main")
}

func TestBuildBindings_ValueTypes(t *testing.T) {
	body := `{
		"flag": true,
		"int": 12,
		"integral": 4.0,
		"price": 19.95,
		"huge": 123456789012345678901234567890,
		"text": "x",
		"none": null,
		"nested": {"list": [1, 2.5, "s", false, null]}
	}`

	b, err := BuildBindings([]byte(body), nil)
	require.NoError(t, err)

	assert.Equal(t, true, b["flag"])
	assert.Equal(t, int64(12), b["int"])
	assert.Equal(t, int64(4), b["integral"])
	assert.True(t, decimal.RequireFromString("19.95").Equal(b["price"].(decimal.Decimal)))
	assert.IsType(t, decimal.Decimal{}, b["huge"])
	assert.Equal(t, "x", b["text"])
	assert.Contains(t, b, "none")
	assert.Nil(t, b["none"])

	nested := b["nested"].(map[string]any)
	list := nested["list"].([]any)
	require.Len(t, list, 5)
	assert.Equal(t, int64(1), list[0])
	assert.True(t, decimal.RequireFromString("2.5").Equal(list[1].(decimal.Decimal)))
	assert.Equal(t, "s", list[2])
	assert.Equal(t, false, list[3])
	assert.Nil(t, list[4])
}
