package settings

import (
	"path/filepath"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/util/bytesize"
)

// MinBlockSize is the smallest block size accepted from configuration.
const MinBlockSize = int(bytesize.MB)

func NewSettings() *Settings {
	dataFolder := getString("dataFolder", "data")

	blockSize, err := bytesize.Parse(getString("storage_blockSize", "1MB"))
	if err != nil {
		panic(err)
	}

	return &Settings{
		ClientName: getString("clientName", "blockvault"),
		DataFolder: dataFolder,
		LogLevel:   getString("logLevel", "INFO"),
		PrettyLogs: getBool("PRETTY_LOGS", true),
		Lock: LockSettings{
			Folder:         getString("lock_folder", dataFolder),
			DefaultTimeout: getDuration("lock_defaultTimeout", 30*time.Second),
			PollInterval:   getDuration("lock_pollInterval", 100*time.Millisecond),
			ReapInterval:   getDuration("lock_reapInterval", 10*time.Second),
			StaleAfter:     getDuration("lock_staleAfter", 30*time.Second),
			PathCacheSize:  getInt("lock_pathCacheSize", 1024),
		},
		FileSystem: FileSystemSettings{
			TransientRetries:    getInt("fs_transientRetries", 3),
			TransientBackoff:    getDuration("fs_transientBackoff", 10*time.Millisecond),
			TransientMaxBackoff: getDuration("fs_transientMaxBackoff", time.Second),
			TransientErrnos:     getMultiString("fs_transientErrnos", ","),
		},
		Cache: CacheSettings{
			Folder:            getString("cache_folder", filepath.Join(dataFolder, "cache")),
			DefaultExpire:     getDuration("cache_defaultExpire", 0),
			Compress:          getBool("cache_compress", false),
			CompressThreshold: getInt("cache_compressThreshold", 4096),
		},
		Storage: StorageSettings{
			Folder:               getString("storage_folder", filepath.Join(dataFolder, "blocks")),
			BlockSize:            blockSize.Int(),
			MaxBlocksPerFolder:   getInt("storage_maxBlocksPerFolder", 250),
			SweepGrace:           getDuration("storage_sweepGrace", time.Hour),
			SweepInterval:        getDuration("storage_sweepInterval", 0),
			MetaStoreURL:         getURL("storage_metaStore", "sqlite:///blockvault"),
			PostgresMaxIdleConns: getInt("storage_postgresMaxIdleConns", 10),
			PostgresMaxOpenConns: getInt("storage_postgresMaxOpenConns", 80),
			HTTPListenAddress:    getString("storage_httpListenAddress", ":8090"),
		},
	}
}

// Validate checks the values that cannot be corrected silently.
func (s *Settings) Validate() error {
	if s.Storage.BlockSize < MinBlockSize {
		return errors.NewConfigurationError("storage_blockSize must be at least %d bytes, got %d", MinBlockSize, s.Storage.BlockSize)
	}

	if s.Storage.MaxBlocksPerFolder <= 0 {
		return errors.NewConfigurationError("storage_maxBlocksPerFolder must be positive, got %d", s.Storage.MaxBlocksPerFolder)
	}

	if s.Lock.PollInterval <= 0 {
		return errors.NewConfigurationError("lock_pollInterval must be positive, got %s", s.Lock.PollInterval)
	}

	if s.Lock.DefaultTimeout < 0 {
		return errors.NewConfigurationError("lock_defaultTimeout must not be negative, got %s", s.Lock.DefaultTimeout)
	}

	if s.Lock.PathCacheSize <= 0 {
		return errors.NewConfigurationError("lock_pathCacheSize must be positive, got %d", s.Lock.PathCacheSize)
	}

	if s.Storage.MetaStoreURL == nil {
		return errors.NewConfigurationError("storage_metaStore is not a valid URL")
	}

	return nil
}
