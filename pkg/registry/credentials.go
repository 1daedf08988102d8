package registry

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Credentials for a registry.
type Credentials struct {
	Username      string
	Password      string
	ServerAddress string
	// Expires is when the credentials stop working; zero if they
	// don't expire.
	Expires time.Time `json:",omitempty"`
}

func (c Credentials) String() string {
	if c.Username == "" {
		return "<no credentials>"
	}
	return fmt.Sprintf("<registry credentials for %s@%s>", c.Username, c.ServerAddress)
}

// parseAuth decodes a base64 "username:password" token, as returned
// by ECR (and as found in docker config files).
func parseAuth(auth string) (Credentials, error) {
	decodedAuth, err := base64.StdEncoding.DecodeString(auth)
	if err != nil {
		return Credentials{}, err
	}
	authParts := strings.SplitN(string(decodedAuth), ":", 2)
	if len(authParts) != 2 {
		return Credentials{},
			fmt.Errorf("decoded credential has wrong number of fields (expected 2, got %d)", len(authParts))
	}
	return Credentials{
		Username: authParts[0],
		Password: authParts[1],
	}, nil
}

// serverHost strips the scheme and any path from a registry endpoint,
// e.g., https://123456789012.dkr.ecr.eu-west-1.amazonaws.com.
func serverHost(endpoint string) string {
	host := endpoint
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	return host
}
