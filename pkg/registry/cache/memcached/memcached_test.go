package memcached

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	deadline := time.Date(2019, 11, 5, 10, 30, 0, 0, time.UTC)
	val, got, err := decode(encode(deadline, []byte("app/web")))
	require.NoError(t, err)
	assert.Equal(t, "app/web", string(val))
	assert.True(t, deadline.Equal(got))

	_, _, err = decode([]byte{1, 2})
	assert.Error(t, err)
}

func TestExpiry(t *testing.T) {
	now := time.Date(2019, 11, 5, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, int32(MinExpiry.Seconds()), expiry(now, now.Add(time.Minute)))
	assert.Equal(t, int32(MinExpiry.Seconds()), expiry(now, now.Add(-time.Hour)))
	assert.Equal(t, int32((48 * time.Hour).Seconds()), expiry(now, now.Add(24*time.Hour)))
}
