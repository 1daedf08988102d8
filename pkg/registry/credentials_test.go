package registry

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	user    = "AWS"
	pass    = "pass:with:colons"
	okCreds = base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
)

func TestParseAuth(t *testing.T) {
	creds, err := parseAuth(okCreds)
	assert.NoError(t, err)
	assert.Equal(t, user, creds.Username)
	assert.Equal(t, pass, creds.Password)

	for _, bad := range []string{
		"not base64!",
		base64.StdEncoding.EncodeToString([]byte("nocolon")),
	} {
		_, err := parseAuth(bad)
		assert.Error(t, err, bad)
	}
}

func TestServerHost(t *testing.T) {
	for _, v := range []struct {
		endpoint, host string
	}{
		{"https://123456789012.dkr.ecr.eu-west-1.amazonaws.com", "123456789012.dkr.ecr.eu-west-1.amazonaws.com"},
		{"https://localhost:5000/v2/", "localhost:5000"},
		{"localhost:5000", "localhost:5000"},
	} {
		assert.Equal(t, v.host, serverHost(v.endpoint))
	}
}

func TestCredentialsStringHidesPassword(t *testing.T) {
	creds := Credentials{Username: user, Password: pass, ServerAddress: "example.com"}
	assert.NotContains(t, creds.String(), pass)
}

func TestRepositoryName(t *testing.T) {
	assert.Equal(t, "app/hello", RepositoryName("App", "Hello"))
}
