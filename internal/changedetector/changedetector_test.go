package changedetector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashContent_StripsScriptAndStyle(t *testing.T) {
	a := HashContent(`<html><script>var nonce="abc123";</script><body>content</body></html>`)
	b := HashContent(`<html><script>var nonce="xyz999";</script><body>content</body></html>`)
	assert.Equal(t, a, b)
}

func TestHashContent_StripsDynamicAttrs(t *testing.T) {
	a := HashContent(`<form csrf="aaa111">content</form>`)
	b := HashContent(`<form csrf="bbb222">content</form>`)
	assert.Equal(t, a, b)
}

func TestHashContent_ChangesOnRealContentChange(t *testing.T) {
	a := HashContent(`<body>Приказ №1</body>`)
	b := HashContent(`<body>Приказ №2</body>`)
	assert.NotEqual(t, a, b)
}

func TestHashContent_NormalizesWhitespace(t *testing.T) {
	a := HashContent("<body>  a   b  </body>")
	b := HashContent("<body> a b </body>")
	assert.Equal(t, a, b)
}

func TestExtractJSONVar_FindsObjectAssignment(t *testing.T) {
	html := `<script>$obj = {"data": [{"url": "/a"}]};</script>`
	got := extractJSONVar(html, "$obj")
	assert.Contains(t, got, `"data"`)
}

func TestExtractJSONVar_FindsArrayAssignment(t *testing.T) {
	html := `<script>$obj = [{"url": "/a"}];</script>`
	got := extractJSONVar(html, "$obj")
	assert.Contains(t, got, `"url"`)
}

func TestExtractJSONVar_MissingReturnsEmpty(t *testing.T) {
	got := extractJSONVar(`<html>no variable here</html>`, "$obj")
	assert.Empty(t, got)
}

func TestResolveAgainst_JoinsRelativeLink(t *testing.T) {
	got := resolveAgainst("https://example.com/list", "/doc/1.pdf")
	assert.Equal(t, "https://example.com/doc/1.pdf", got)
}

func TestJSONItems_UnwrapsDataKey(t *testing.T) {
	data := map[string]any{"data": []any{map[string]any{"url": "/x"}}}
	items := jsonItems(data)
	assert.Len(t, items, 1)
}

func TestJSONItems_PlainArray(t *testing.T) {
	data := []any{map[string]any{"url": "/x"}, map[string]any{"url": "/y"}}
	items := jsonItems(data)
	assert.Len(t, items, 2)
}
