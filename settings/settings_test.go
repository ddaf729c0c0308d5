package settings

import (
	"testing"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/stretchr/testify/require"
)

// check settings object is initialised
func TestInitialiseSettings(t *testing.T) {
	tSettings := NewSettings()

	require.Equal(t, MinBlockSize, tSettings.Storage.BlockSize)
	require.Equal(t, 250, tSettings.Storage.MaxBlocksPerFolder)
	require.Equal(t, 30*time.Second, tSettings.Lock.DefaultTimeout)
	require.Equal(t, 100*time.Millisecond, tSettings.Lock.PollInterval)
	require.NotNil(t, tSettings.Storage.MetaStoreURL)
	require.Equal(t, "sqlite", tSettings.Storage.MetaStoreURL.Scheme)
	require.Equal(t, 3, tSettings.FileSystem.TransientRetries)

	require.NoError(t, tSettings.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *Settings)
	}{
		{"block size below minimum", func(s *Settings) { s.Storage.BlockSize = 1024 }},
		{"zero folder cap", func(s *Settings) { s.Storage.MaxBlocksPerFolder = 0 }},
		{"zero poll interval", func(s *Settings) { s.Lock.PollInterval = 0 }},
		{"negative timeout", func(s *Settings) { s.Lock.DefaultTimeout = -time.Second }},
		{"zero path cache", func(s *Settings) { s.Lock.PathCacheSize = 0 }},
		{"missing meta store", func(s *Settings) { s.Storage.MetaStoreURL = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tSettings := NewSettings()
			tt.modify(tSettings)

			err := tSettings.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, errors.ErrConfiguration))
		})
	}
}
