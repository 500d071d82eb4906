package logging_test

import (
	"testing"

	"github.com/fyrsmithlabs/reposearch/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	logger, err := logging.New(logging.Config{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("smoke")
}

func TestNewJSON(t *testing.T) {
	logger, err := logging.New(logging.Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := logging.New(logging.Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestNewInvalidFormat(t *testing.T) {
	_, err := logging.New(logging.Config{Format: "xml"})
	assert.Error(t, err)
}
