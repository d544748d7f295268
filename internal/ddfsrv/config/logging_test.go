package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerDuplicatesIntoExternalLog(t *testing.T) {
	TestInit()
	path := filepath.Join(t.TempDir(), "service.log")
	Config().ExternalLog = path
	defer func() { Config().ExternalLog = "" }()

	InitLogger()
	log.Info().Str("marker", "external-log-check").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "external-log-check")
}

func TestInitLoggerWithoutExternalLog(t *testing.T) {
	TestInit()
	Config().ExternalLog = ""
	InitLogger()
	log.Info().Msg("stderr only")

	Config().LogLevel = "nonsense"
	InitLogger() // unknown levels fall back to info without failing
}
