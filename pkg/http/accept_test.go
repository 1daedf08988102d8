package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateContentType(t *testing.T) {
	accept := func(values ...string) *http.Request {
		h := http.Header{}
		for _, v := range values {
			h.Add("Accept", v)
		}
		return &http.Request{Header: h}
	}

	assert.Equal(t, "application/json", negotiateContentType(&http.Request{}, []string{"application/json", "text/plain"}),
		"no Accept header gets the first preference")
	assert.Equal(t, "", negotiateContentType(accept("text/html;q=0.9", "image/png"), []string{"application/json"}),
		"nothing acceptable")
	assert.Equal(t, "text/plain", negotiateContentType(accept("application/json,text/plain"), []string{"text/plain", "application/json"}),
		"equal quality goes to preference")
	assert.Equal(t, "text/plain", negotiateContentType(accept("application/json;q=0.5,text/plain;q=1.0"), []string{"application/json", "text/plain"}),
		"quality beats preference")
}
