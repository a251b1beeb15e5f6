package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportrank/ingest/internal/model"
	"github.com/sportrank/ingest/internal/sourceregistry"
)

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF([]byte("%PDF-1.4 rest")))
	assert.False(t, isPDF([]byte("<html>")))
	assert.False(t, isPDF([]byte("%P")))
}

func TestLooksLikeAntibot(t *testing.T) {
	assert.True(t, looksLikeAntibot([]byte("<html>Checking your browser before accessing</html>")))
	assert.True(t, looksLikeAntibot([]byte("ServicePipe protection active")))
	assert.False(t, looksLikeAntibot([]byte("%PDF-1.4 normal content")))
}

func TestDownload_RejectsHostNotInAllowlist(t *testing.T) {
	registry := sourceregistry.New([]model.Source{
		{Code: "src1", BaseURL: "https://allowed.example.com"},
	})
	d := New(registry, 0)
	source, _ := registry.Get("src1")

	_, err := d.Download(context.Background(), source, "https://not-allowed.example.com/file.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestDownload_HTTPFetchesPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4\ncontent"))
	}))
	defer srv.Close()

	registry := sourceregistry.New([]model.Source{
		{Code: "src1", BaseURL: srv.URL, FetchMethod: model.FetchHTTP},
	})
	d := New(registry, 0)
	source, _ := registry.Get("src1")

	content, err := d.Download(context.Background(), source, srv.URL+"/doc.pdf")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("%PDF")))
}

func TestDownload_NonPDFResponseIsNotPDFError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>ordinary page</html>"))
	}))
	defer srv.Close()

	registry := sourceregistry.New([]model.Source{
		{Code: "src1", BaseURL: srv.URL, FetchMethod: model.FetchHTTP},
	})
	d := New(registry, 0)
	source, _ := registry.Get("src1")

	_, err := d.Download(context.Background(), source, srv.URL+"/doc.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestDownload_AntibotResponseIsDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>Just a moment... Checking your browser</html>"))
	}))
	defer srv.Close()

	registry := sourceregistry.New([]model.Source{
		{Code: "src1", BaseURL: srv.URL, FetchMethod: model.FetchHTTP},
	})
	d := New(registry, 0)
	source, _ := registry.Get("src1")

	_, err := d.Download(context.Background(), source, srv.URL+"/doc.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAntibotDetected)
}

func TestReadLimited_RejectsOversized(t *testing.T) {
	r := strings.NewReader("0123456789")
	_, err := readLimited(r, 5)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestReadLimited_AllowsUnderLimit(t *testing.T) {
	r := strings.NewReader("0123456789")
	got, err := readLimited(r, 20)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
}

func TestExtractLinks_FiltersNonPDFAndDedupes(t *testing.T) {
	d := New(sourceregistry.New(nil), 0)
	registry := sourceregistry.New([]model.Source{{Code: "src1", BaseURL: "https://x.example.com"}})
	source, _ := registry.Get("src1")

	html := `
		<a href="/a.pdf">A</a>
		<a href="/a.pdf">A again</a>
		<a href="/page.html">not pdf</a>
		<a href="/media/docs/b">media doc</a>
	`
	docs := d.extractLinks(html, source, "https://x.example.com/list")
	assert.Len(t, docs, 2)
}

func TestExtractLinks_EnrichesFromSurroundingContext(t *testing.T) {
	d := New(sourceregistry.New(nil), 0)
	registry := sourceregistry.New([]model.Source{{
		Code:             "src1",
		BaseURL:          "https://x.example.com",
		OrderNumberRegex: `№\s*(\d+)`,
		OrderDateRegex:   `от\s*(\d{2}\.\d{2}\.\d{4})`,
		TitleRegex:       `(Распоряжение[^<]*)`,
	}})
	source, _ := registry.Get("src1")

	html := `<p>Распоряжение № 42 от 05.01.2024 о присвоении разрядов</p>
		<a href="/a.pdf">скачать</a>`
	docs := d.extractLinks(html, source, "https://x.example.com/list")
	require.Len(t, docs, 1)
	assert.Equal(t, "42", docs[0].OrderNumber)
	assert.Equal(t, model.OrderTypeDirective, docs[0].OrderType)
	assert.False(t, docs[0].OrderDate.IsZero())
}
