package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fxlake/tickpipe/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickpipe.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
symbols = ["EURUSD"]

[object_store]
endpoint = "localhost:9000"
bucket = "fxlake"
`

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := config.ParseConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:7171", cfg.Server.ListenAddr)
	require.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	require.Equal(t, "30s", cfg.ObjectStore.RequestTimeout)
	require.Equal(t, 1000, cfg.Batcher.MaxBatchSize)
	require.Equal(t, "5m0s", cfg.Batcher.MaxBatchAge)
	require.Equal(t, "1m0s", cfg.Batcher.SweepInterval)
	require.Equal(t, 24, cfg.History.ChunkHours)
	require.Equal(t, "10s", cfg.History.PacingDelay)
	require.Equal(t, 3, cfg.History.MaxRetries)
}

func TestParseConfigEmptyPath(t *testing.T) {
	_, err := config.ParseConfig("")
	require.ErrorIs(t, err, config.ErrEmptyConfigPath)
}

func TestParseConfigMissingBucket(t *testing.T) {
	_, err := config.ParseConfig(writeConfig(t, `
[object_store]
endpoint = "localhost:9000"
`))
	require.Error(t, err)
}

func TestParseConfigVenueValidation(t *testing.T) {
	testCases := map[string]struct {
		venue   string
		wantErr bool
	}{
		"websocket venue": {
			venue: `
[[venues]]
name = "kraken"
kind = "websocket"
websocket = "ws.kraken.com"
`,
		},
		"stream venue": {
			venue: `
[[venues]]
name = "oanda"
kind = "stream"
rest = "https://stream-fxpractice.oanda.com"
`,
		},
		"mock venue": {
			venue: `
[[venues]]
name = "mock"
kind = "mock"
`,
		},
		"unknown kind": {
			venue: `
[[venues]]
name = "kraken"
kind = "carrier-pigeon"
`,
			wantErr: true,
		},
		"websocket without endpoint": {
			venue: `
[[venues]]
name = "kraken"
kind = "websocket"
`,
			wantErr: true,
		},
		"stream without endpoint": {
			venue: `
[[venues]]
name = "oanda"
kind = "stream"
`,
			wantErr: true,
		},
		"missing name": {
			venue: `
[[venues]]
kind = "mock"
`,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParseConfig(writeConfig(t, minimalConfig+tc.venue))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseConfigsOverride(t *testing.T) {
	base := writeConfig(t, minimalConfig)
	override := writeConfig(t, `
[batcher]
max_batch_size = 50
`)

	cfg, err := config.ParseConfigs([]string{base, override})
	require.NoError(t, err)
	require.Equal(t, 50, cfg.Batcher.MaxBatchSize)
	require.Equal(t, "fxlake", cfg.ObjectStore.Bucket)
}

func TestVenueMap(t *testing.T) {
	cfg, err := config.ParseConfig(writeConfig(t, minimalConfig+`
[[venues]]
name = "mock"
kind = "mock"
`))
	require.NoError(t, err)

	venues := cfg.VenueMap()
	require.Len(t, venues, 1)
	require.Equal(t, config.VenueKindMock, venues["mock"].Kind)
}
