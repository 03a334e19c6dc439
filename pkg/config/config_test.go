package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultsCacheControl(t *testing.T) {
	cfg, err := Parse([]byte(`
mbstf:
  service_name: mbstf
  distSessionAPI:
    addr: ["0.0.0.0"]
    port: 8080
`))
	require.NoError(t, err)
	assert.Equal(t, "mbstf", cfg.MBSTF.ServiceName)
	assert.Equal(t, 8080, cfg.MBSTF.DistSessionAPI.Port)
	assert.Equal(t, defaultDistMaxAge, cfg.MBSTF.ServerResponseCacheCtrl.DistMaxAge)
	assert.Equal(t, defaultObjectMaxAge, cfg.MBSTF.ServerResponseCacheCtrl.ObjectMaxAge)
}

func TestParsePrefersCamelCaseOverPascalCase(t *testing.T) {
	cfg, err := Parse([]byte(`
mbstf:
  serverResponseCacheControl:
    distMaxAge: 120
    DistMaxAge: 999
    ObjectMaxAge: 45
`))
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.MBSTF.ServerResponseCacheCtrl.DistMaxAge, "camelCase spelling should win over PascalCase")
	assert.Equal(t, 45, cfg.MBSTF.ServerResponseCacheCtrl.ObjectMaxAge)
}

func TestParseAcceptsPascalCaseWhenCamelCaseAbsent(t *testing.T) {
	cfg, err := Parse([]byte(`
mbstf:
  serverResponseCacheControl:
    DistMaxAge: 30
`))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.MBSTF.ServerResponseCacheCtrl.DistMaxAge)
}

func TestParseStoresSBIAndDiscoveryVerbatim(t *testing.T) {
	cfg, err := Parse([]byte(`
mbstf:
  sbi:
    nrfUri: http://nrf.example.com
  discovery:
    method: direct
`))
	require.NoError(t, err)
	assert.Equal(t, "http://nrf.example.com", cfg.MBSTF.SBI["nrfUri"])
	assert.Equal(t, "direct", cfg.MBSTF.Discovery["method"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}
