package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/connprobe/internal/models"
)

func TestGetPreset(t *testing.T) {
	p, err := GetPreset("gmail-imap")
	require.NoError(t, err)
	assert.Equal(t, "imap.gmail.com", p.Server)
	assert.Equal(t, 993, p.Port)
	assert.Equal(t, models.DefaultTimeout, p.Target().Timeout)

	_, err = GetPreset("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gmail-imap")
}

func TestBuiltinPresetsIsACopy(t *testing.T) {
	presets := BuiltinPresets()
	delete(presets, "gmail-imap")

	_, err := GetPreset("gmail-imap")
	assert.NoError(t, err)
	assert.Len(t, PresetNames(), 6)
}
