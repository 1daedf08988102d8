package image

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "sha256:6c3c624b58dbbcd3c0dd82b4c53f04194d1247c6eebdaab7c610cf7d66709b3b"

func TestDomainRegexp(t *testing.T) {
	for _, d := range []string{
		"localhost", "localhost:5000",
		"example.com", "example.com:80",
		"123456789012.dkr.ecr.eu-west-1.amazonaws.com",
	} {
		if !domainRegexp.MatchString(d) {
			t.Errorf("domain regexp did not match %q", d)
		}
	}
	for _, d := range []string{"library", "app", "my-team"} {
		if domainRegexp.MatchString(d) {
			t.Errorf("domain regexp matched %q", d)
		}
	}
}

func TestParseRef(t *testing.T) {
	for _, x := range []struct {
		test   string
		domain string
		image  string
		tag    string
	}{
		{"alpine", "", "alpine", ""},
		{"alpine:3.10", "", "alpine", "3.10"},
		{"library/alpine", "", "library/alpine", ""},
		{"localhost/hello:v1", "localhost", "hello", "v1"},
		{"localhost:5000/app/hello:v1", "localhost:5000", "app/hello", "v1"},
		{"123456789012.dkr.ecr.eu-west-1.amazonaws.com/app/hello:v1", "123456789012.dkr.ecr.eu-west-1.amazonaws.com", "app/hello", "v1"},
		{"example.com/app/hello:v1@" + testDigest, "example.com", "app/hello", "v1"},
	} {
		ref, err := ParseRef(x.test)
		if err != nil {
			t.Errorf("failed parsing %q: %s", x.test, err)
			continue
		}
		assert.Equal(t, x.test, ref.String(), "%q does not stringify as itself", x.test)
		assert.Equal(t, x.domain, ref.Domain, x.test)
		assert.Equal(t, x.image, ref.Image, x.test)
		assert.Equal(t, x.tag, ref.Tag, x.test)
	}
}

func TestParseRefErrorCases(t *testing.T) {
	for _, s := range []string{
		"",
		":tag",
		"alpine:",
		"/leading/slash",
		"trailing/slash/",
		"a:b:c",
		"alpine:v1@notadigest",
	} {
		if _, err := ParseRef(s); err == nil {
			t.Errorf("expected error parsing %q, got none", s)
		}
	}
}

func TestTagged(t *testing.T) {
	ref, err := ParseRef("example.com/app/hello:v1@" + testDigest)
	require.NoError(t, err)
	assert.Equal(t, "example.com/app/hello:v1", ref.Tagged())
	assert.Equal(t, testDigest, ref.Digest.String())
}

func TestRefJSON(t *testing.T) {
	ref := Name{Domain: "localhost:5000", Image: "app/hello"}.ToRef("v2")
	bytes, err := json.Marshal(ref)
	require.NoError(t, err)
	assert.Equal(t, `"localhost:5000/app/hello:v2"`, string(bytes))

	var got Ref
	require.NoError(t, json.Unmarshal(bytes, &got))
	assert.Equal(t, ref, got)
}
