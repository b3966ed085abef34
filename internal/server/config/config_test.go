package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.EndpointAddrHTTP)
	assert.Equal(t, "https://www.strava.com/oauth/token", c.TokenURL)
	assert.Equal(t, "https://www.strava.com/api/v3/athlete/activities", c.ActivitiesURL)
	assert.Equal(t, BackendPostgres, c.TokenBackend)
	assert.Equal(t, DefaultTokenPrefix, c.TokenPrefix)
	assert.Equal(t, "activities", c.ArchivePrefix)
	assert.Equal(t, 30*time.Second, c.RequestTimeout)
	assert.Equal(t, 4, c.SyncConcurrency)
	assert.Equal(t, 3, c.PersistRetries)
}

func TestLoadConfig_EnvOverridesDefaults(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin", "-n", "9"}

	t.Setenv("TOKEN_BACKEND", BackendMemory)
	t.Setenv("STRAVA_CLIENT_ID", "12345")

	c := LoadConfig()
	require.NotNil(t, c)

	assert.Equal(t, BackendMemory, c.TokenBackend)
	assert.Equal(t, "12345", c.StravaClientID)
	assert.Equal(t, 9, c.SyncConcurrency, "flags are applied after the environment")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.LoadDefaults()
		c.StravaClientID = "id"
		c.StravaClientSecret = "secret"
		c.RedirectURI = "http://localhost:8080/exchange_token"
		return c
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.TokenPrefix = ""
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultTokenPrefix, c.TokenPrefix)

	c = valid()
	c.StravaClientID = ""
	c.TokenBackend = "firestore"
	c.SyncConcurrency = 0
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client id")
	assert.Contains(t, err.Error(), `unknown token backend "firestore"`)
	assert.Contains(t, err.Error(), "sync concurrency")
}
