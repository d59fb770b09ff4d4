package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer()

	bindings, err := BuildBindings(
		[]byte(`{"name":"jo smith","order":"A-1","total":19.95}`),
		[]byte(`[{"sku":"X","qty":2},{"sku":"Y","qty":1}]`),
	)
	require.NoError(t, err)

	subject, body, err := r.Render(
		"  Order {{ .order }} for {{ title .main.name }}  ",
		`<p>Total {{ .total }}</p>{{ range .lines }}<li>{{ .sku }} x{{ .qty }}</li>{{ end }}{{ (index .details 0).sku }}`,
		bindings,
	)
	require.NoError(t, err)

	assert.Equal(t, "Order A-1 for Jo Smith", subject)
	assert.Equal(t, "<p>Total 19.95</p><li>X x2</li><li>Y x1</li>X", body)
}

func TestRenderer_Helpers(t *testing.T) {
	r := NewRenderer()

	bindings := Bindings{"who": "<b>", "empty": "", "when": "2024-03-05T10:00:00Z"}
	_, body, err := r.Render("s", `{{ escapeHTML .who }}|{{ default "n/a" .empty }}|{{ default "n/a" .missing }}|{{ formatDate "02.01.2006" .when }}|{{ upper "x" }}`, bindings)
	require.NoError(t, err)

	assert.Equal(t, "&lt;b&gt;|n/a|n/a|05.03.2024|X", body)
}

func TestRenderer_Errors(t *testing.T) {
	r := NewRenderer()

	_, _, err := r.Render("{{ .name", "body", Bindings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse subject template")

	_, _, err = r.Render("ok", "{{ index .list 5 }}", Bindings{"list": []any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute body template")
}
