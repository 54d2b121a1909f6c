package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlaceholders(t *testing.T) {
	fields := map[string]string{"tenantName": "Aisha", "unit.no": "4B"}

	assert.Equal(t, "Tenant: Aisha, unit 4B", RenderPlaceholders("Tenant: {{tenantName}}, unit {{ unit.no }}", fields))
	assert.Equal(t, "Owner: ", RenderPlaceholders("Owner: {{ownerName}}", fields), "unknown keys render empty")
	assert.Equal(t, "no placeholders", RenderPlaceholders("no placeholders", nil))
	assert.Equal(t, "المستأجر Aisha", RenderPlaceholders("المستأجر {{tenantName}}", fields))
}

func TestRenderPlaceholders_AnyKeyIsConsumed(t *testing.T) {
	fields := map[string]string{"tenant name": "Aisha", "اسم": "عائشة"}

	assert.Equal(t, "Tenant: Aisha", RenderPlaceholders("Tenant: {{tenant name}}", fields))
	assert.Equal(t, "المستأجر عائشة", RenderPlaceholders("المستأجر {{ اسم }}", fields))
	assert.Equal(t, "Witness: ", RenderPlaceholders("Witness: {{الشاهد}}", fields))
	assert.Equal(t, "Ref  end", RenderPlaceholders("Ref {{ref#1}} end", fields))
	assert.NotContains(t, RenderPlaceholders("{{tenant name}} {{الشاهد}} {{ }}", fields), "{{")

	assert.Equal(t, []string{"tenant name", "الشاهد"}, PlaceholderKeys("{{tenant name}} {{ الشاهد }} {{tenant name}}"))
}

func TestPlaceholderKeys(t *testing.T) {
	keys := PlaceholderKeys("{{a}} {{ b }} {{a}} {{c-d}} {not} {{ }}")
	assert.Equal(t, []string{"a", "b", "c-d"}, keys)
	assert.Empty(t, PlaceholderKeys("plain"))
}

func TestRenderPrintableDocument(t *testing.T) {
	doc, err := RenderPrintableDocument("Lease <1>",
		DocumentSection{Lang: "en", Dir: "ltr", Body: "# Title\n\n**bold** <script>x</script>"},
		DocumentSection{Lang: "ar", Dir: "rtl", Body: "نص"},
	)
	require.NoError(t, err)
	html := string(doc)
	assert.Contains(t, html, "<title>Lease &lt;1&gt;</title>")
	assert.Contains(t, html, "<h1>Title</h1>")
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, `<section lang="ar" dir="rtl">`)
	assert.Equal(t, 2, strings.Count(html, "<section "))
}
