package config

import (
	"fmt"
	"strconv"
	"time"
)

// parseEnv overlays values from environment variables. Unset or empty
// variables leave the current value untouched; malformed numbers panic,
// like malformed flags do.
//
// Variable names follow the deployment this relay replaces
// (STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET, REDIRECT_URI, PORT).
func parseEnv(config *Config, lookup func(string) (string, bool)) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				panic(fmt.Errorf("invalid %s: %w", key, err))
			}
			*dst = n
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		config.EndpointAddrHTTP = ":" + port
	}
	str(&config.EndpointAddrHTTP, "LISTEN_ADDR")
	str(&config.LogLevel, "LOG_LEVEL")
	str(&config.SecretKey, "SECRET_KEY")

	str(&config.StravaClientID, "STRAVA_CLIENT_ID")
	str(&config.StravaClientSecret, "STRAVA_CLIENT_SECRET")
	str(&config.RedirectURI, "REDIRECT_URI")
	str(&config.AuthURL, "STRAVA_AUTH_URL")
	str(&config.TokenURL, "STRAVA_TOKEN_URL")
	str(&config.ActivitiesURL, "STRAVA_ACTIVITIES_URL")
	num(&config.ActivitiesPerPage, "ACTIVITIES_PER_PAGE")

	str(&config.TokenBackend, "TOKEN_BACKEND")
	str(&config.DatabaseDSN, "DATABASE_DSN", "DATABASE_URL")

	str(&config.S3AccessKey, "S3_ACCESS_KEY")
	str(&config.S3SecretKey, "S3_SECRET_KEY")
	str(&config.S3Bucket, "S3_BUCKET", "BUCKET_NAME")
	str(&config.S3Region, "S3_REGION")
	str(&config.S3BaseEndpoint, "S3_ENDPOINT")
	str(&config.TokenPrefix, "TOKEN_PREFIX")
	str(&config.ArchivePrefix, "ARCHIVE_PREFIX")

	str(&config.RedisAddr, "REDIS_ADDR")
	str(&config.RedisPassword, "REDIS_PASSWORD")

	if v, ok := lookup("REQUEST_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err))
		}
		config.RequestTimeout = d
	}
	num(&config.SyncConcurrency, "SYNC_CONCURRENCY")
	num(&config.PersistRetries, "PERSIST_RETRIES")
}
