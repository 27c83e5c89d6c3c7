package headless

import (
	"net/http"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func documentEvent(status int64, url string, headers network.Headers) *network.EventResponseReceived {
	return &network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: status, URL: url, Headers: headers},
	}
}

func TestDocumentResponseKeepsMainFrame(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://acme.com/app.js"},
	})
	doc.observe(documentEvent(203, "https://acme.com/contact", network.Headers{"X-Served-By": "edge-1"}))
	doc.observe(documentEvent(404, "https://ads.example/frame", nil))
	doc.observe("not a response event")

	status, headers, url := doc.result("https://acme.com/kontakt", "https://acme.com/ignored")
	assert.Equal(t, 203, status)
	assert.Equal(t, "https://acme.com/contact", url)
	assert.Equal(t, "edge-1", headers.Get("X-Served-By"))
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	status, headers, url := doc.result("https://acme.com", "https://acme.com/home")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://acme.com/home", url)
	assert.NotNil(t, headers)

	_, _, url = doc.result("https://acme.com", "")
	assert.Equal(t, "https://acme.com", url)
}

func TestDocumentResponseHeadersAreCopies(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(documentEvent(200, "https://acme.com", network.Headers{"Set-Cookie": []any{"a=1", "b=2"}}))

	_, first, _ := doc.result("", "")
	require.Equal(t, []string{"a=1", "b=2"}, first.Values("Set-Cookie"))
	first.Del("Set-Cookie")

	_, second, _ := doc.result("", "")
	require.Len(t, second.Values("Set-Cookie"), 2)
}

func TestNetworkHeaderConversion(t *testing.T) {
	t.Parallel()

	out := toNetworkHeaders(http.Header{
		"Accept-Language": {"tr-TR"},
		"X-Multi":         {"a", "b"},
		"X-Empty":         {},
	})
	assert.Equal(t, "tr-TR", out["Accept-Language"])
	assert.Equal(t, []string{"a", "b"}, out["X-Multi"])
	assert.NotContains(t, out, "X-Empty")

	back := fromNetworkHeaders(network.Headers{"X-Count": 3, "X-Name": "acme", "X-List": []string{"x", "y"}})
	assert.Equal(t, "3", back.Get("X-Count"))
	assert.Equal(t, "acme", back.Get("X-Name"))
	assert.Equal(t, []string{"x", "y"}, back.Values("X-List"))
}
