package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment:        Test,
		DatabaseType:       SQLiteDatabase,
		EmitTimeoutSeconds: 5,
		JobIntervalSeconds: 86400,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().validate())
}

func TestValidateRejectsNonPositiveIntervals(t *testing.T) {
	c := validConfig()
	c.EmitTimeoutSeconds = 0
	assert.Error(t, c.validate())

	c = validConfig()
	c.JobIntervalSeconds = 0
	assert.Error(t, c.validate())

	c = validConfig()
	c.JobIntervalSeconds = -1
	assert.Error(t, c.validate())
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	c := validConfig()
	c.Environment = "staging"
	assert.Error(t, c.validate())
}
