package scrape

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock_Cloudflare403(t *testing.T) {
	resp := &http.Response{
		StatusCode: 403,
		Header:     http.Header{"Cf-Ray": {"abc123"}},
	}
	blocked, bt := DetectBlock(resp, nil)
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)
}

func TestDetectBlock_RateLimited(t *testing.T) {
	blocked, bt := DetectBlock(&http.Response{StatusCode: 429, Header: http.Header{}}, nil)
	assert.True(t, blocked)
	assert.Equal(t, BlockRateLimited, bt)
}

func TestDetect_Table(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"cloudflare server header", 503, http.Header{"Server": {"cloudflare"}}, "", BlockCloudflare},
		{"cloudflare challenge body", 200, http.Header{}, "<p>Checking your browser before accessing</p>", BlockCloudflare},
		{"recaptcha", 200, http.Header{}, "<p>Please complete the reCAPTCHA</p>", BlockCaptcha},
		{"duckduckgo anomaly", 200, http.Header{}, `<div class="anomaly-modal">`, BlockCaptcha},
		{"js shell", 200, http.Header{}, "<html><noscript>Enable JavaScript</noscript></html>", BlockJSShell},
		{"meta refresh", 200, http.Header{}, `<meta http-equiv="refresh" content="0;url=/">`, BlockJSShell},
		{"clean page", 200, http.Header{}, "<p>Contact : jean.dupont@acme.fr</p>", BlockNone},
		{"plain 403", 403, http.Header{}, "forbidden", BlockNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.status, tt.header, []byte(tt.body)))
		})
	}
}

func TestDetectBlock_NilResponse(t *testing.T) {
	blocked, bt := DetectBlock(nil, nil)
	assert.False(t, blocked)
	assert.Equal(t, BlockNone, bt)
}
