package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectRequest_JSONBodyKeepsMarkup(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example/api/reviews?tag=a&tag=b&q=x",
		strings.NewReader(`{"comment":"<b>nice</b> & cheap"}`))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.Header.Set("Referer", "https://shop.example/")

	in := inspectRequest(r, "10.0.0.1", DefaultMaxBodyBytes)

	assert.Equal(t, `{"comment":"<b>nice</b> & cheap"}`, in.snapshot.Body)
	assert.Equal(t, `{"q":"x","tag":["a","b"]}`, in.snapshot.Query)
	assert.Equal(t, "/api/reviews?tag=a&tag=b&q=x", in.snapshot.URL)
	assert.Equal(t, "Mozilla/5.0", in.snapshot.UserAgent)
	assert.Equal(t, "https://shop.example/", in.snapshot.Referer)
	assert.Equal(t, "10.0.0.1", in.snapshot.ClientID)

	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"comment":"<b>nice</b> & cheap"}`, string(body))
}

func TestInspectRequest_FormBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example/api/search",
		strings.NewReader("q=1+UNION+SELECT+1"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	in := inspectRequest(r, "c", DefaultMaxBodyBytes)

	assert.Equal(t, `{"q":"1 UNION SELECT 1"}`, in.snapshot.Body)
	assert.Equal(t, "{}", in.snapshot.Query)
}

func TestInspectRequest_MalformedJSONIsEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example/", strings.NewReader(`{"a":`))
	r.Header.Set("Content-Type", "application/json")

	in := inspectRequest(r, "c", DefaultMaxBodyBytes)

	assert.Equal(t, "{}", in.snapshot.Body)
	assert.False(t, in.parsed)
	body, _ := io.ReadAll(r.Body)
	assert.Equal(t, `{"a":`, string(body))
}

func TestInspectRequest_OversizedBodyIsSkippedButForwarded(t *testing.T) {
	payload := `{"blob":"` + strings.Repeat("x", 64) + `"}`
	r := httptest.NewRequest(http.MethodPost, "http://example/", strings.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")

	in := inspectRequest(r, "c", 16)

	assert.Equal(t, "{}", in.snapshot.Body)
	body, _ := io.ReadAll(r.Body)
	assert.Equal(t, payload, string(body))
}

func TestInspectRequest_OtherContentTypesNotRead(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example/api/upload", strings.NewReader("<script>"))
	r.Header.Set("Content-Type", "image/png")

	in := inspectRequest(r, "c", DefaultMaxBodyBytes)

	assert.Equal(t, "{}", in.snapshot.Body)
	assert.Equal(t, bodyNone, in.kind)
}

func TestInspectRequest_DecodesURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/static/%2e%2e/%2e%2e/etc/passwd", nil)

	in := inspectRequest(r, "c", DefaultMaxBodyBytes)

	assert.Contains(t, in.snapshot.URL, "../../etc/passwd")
}
