package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/stravasync/internal/flagx"
	"github.com/dmitrijs2005/stravasync/internal/timex"
)

// JsonConfig is the on-disk shape of the optional JSON config file.
// Durations accept "30s" style strings or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP   string         `json:"endpoint_addr_http"`
	LogLevel           string         `json:"log_level"`
	SecretKey          string         `json:"secret_key"`
	StravaClientID     string         `json:"strava_client_id"`
	StravaClientSecret string         `json:"strava_client_secret"`
	RedirectURI        string         `json:"redirect_uri"`
	AuthURL            string         `json:"auth_url"`
	TokenURL           string         `json:"token_url"`
	ActivitiesURL      string         `json:"activities_url"`
	ActivitiesPerPage  int            `json:"activities_per_page"`
	TokenBackend       string         `json:"token_backend"`
	DatabaseDSN        string         `json:"database_dsn"`
	S3AccessKey        string         `json:"s3_access_key"`
	S3SecretKey        string         `json:"s3_secret_key"`
	S3Bucket           string         `json:"s3_bucket"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
	TokenPrefix        string         `json:"token_prefix"`
	ArchivePrefix      string         `json:"archive_prefix"`
	RedisAddr          string         `json:"redis_addr"`
	RedisPassword      string         `json:"redis_password"`
	RequestTimeout     timex.Duration `json:"request_timeout"`
	SyncConcurrency    int            `json:"sync_concurrency"`
	PersistRetries     *int           `json:"persist_retries"`
}

// parseJson loads the file named by -c/-config (if any) and overlays every
// field present in it onto config. Unreadable or invalid files panic.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	set(&config.LogLevel, c.LogLevel)
	set(&config.SecretKey, c.SecretKey)
	set(&config.StravaClientID, c.StravaClientID)
	set(&config.StravaClientSecret, c.StravaClientSecret)
	set(&config.RedirectURI, c.RedirectURI)
	set(&config.AuthURL, c.AuthURL)
	set(&config.TokenURL, c.TokenURL)
	set(&config.ActivitiesURL, c.ActivitiesURL)
	set(&config.TokenBackend, c.TokenBackend)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.S3AccessKey, c.S3AccessKey)
	set(&config.S3SecretKey, c.S3SecretKey)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&config.TokenPrefix, c.TokenPrefix)
	set(&config.ArchivePrefix, c.ArchivePrefix)
	set(&config.RedisAddr, c.RedisAddr)
	set(&config.RedisPassword, c.RedisPassword)

	if c.ActivitiesPerPage > 0 {
		config.ActivitiesPerPage = c.ActivitiesPerPage
	}
	if c.RequestTimeout.Duration > 0 {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	if c.SyncConcurrency > 0 {
		config.SyncConcurrency = c.SyncConcurrency
	}
	if c.PersistRetries != nil {
		config.PersistRetries = *c.PersistRetries
	}
}
