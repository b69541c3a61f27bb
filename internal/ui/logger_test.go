package ui

import (
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestInitLogger(t *testing.T) {
	t.Cleanup(InitLogger)

	t.Run("defaults", func(t *testing.T) {
		t.Setenv(LogLevelEnv, "")
		InitLogger()
		assert.Equal(t, "projectkb", log.Default().GetPrefix())
		assert.Equal(t, log.InfoLevel, log.GetLevel())
	})

	t.Run("level from environment", func(t *testing.T) {
		t.Setenv(LogLevelEnv, "warn")
		InitLogger()
		assert.Equal(t, log.WarnLevel, log.GetLevel())
	})

	t.Run("invalid level ignored", func(t *testing.T) {
		t.Setenv(LogLevelEnv, "chatty")
		InitLogger()
		assert.Equal(t, log.InfoLevel, log.GetLevel())
	})
}

func TestSetDebug(t *testing.T) {
	t.Cleanup(InitLogger)
	t.Setenv(LogLevelEnv, "error")
	InitLogger()

	SetDebug(true)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	SetDebug(false)
	assert.Equal(t, log.ErrorLevel, log.GetLevel())
}
