package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{
				"-a", "127.0.0.1:9090", "-k", "s3", "-d", "db", "-s", "secret",
				"-b", "bucket", "-g", "eu-west-1", "-e", "http://minio:9000", "-r", "redis:6379",
				"-t", "10", "-n", "2", "-unrelated", "x",
			},
			expected: &Config{
				EndpointAddrHTTP: "127.0.0.1:9090",
				TokenBackend:     "s3",
				DatabaseDSN:      "db",
				SecretKey:        "secret",
				S3Bucket:         "bucket",
				S3Region:         "eu-west-1",
				S3BaseEndpoint:   "http://minio:9000",
				RedisAddr:        "redis:6379",
				RequestTimeout:   10 * time.Second,
				SyncConcurrency:  2,
			},
		},
		{
			name:        "non numeric timeout",
			args:        []string{"-t", "soon"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config, tt.args) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config, tt.args) })
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}
