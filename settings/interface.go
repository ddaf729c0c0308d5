package settings

import (
	"net/url"
	"time"
)

type Settings struct {
	ClientName string
	DataFolder string
	LogLevel   string
	PrettyLogs bool
	Lock       LockSettings
	FileSystem FileSystemSettings
	Cache      CacheSettings
	Storage    StorageSettings
}

type LockSettings struct {
	Folder         string
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	ReapInterval   time.Duration
	StaleAfter     time.Duration
	PathCacheSize  int
}

// FileSystemSettings control the bounded retry of transient I/O errors.
type FileSystemSettings struct {
	TransientRetries    int
	TransientBackoff    time.Duration
	TransientMaxBackoff time.Duration
	TransientErrnos     []string
}

type CacheSettings struct {
	Folder            string
	DefaultExpire     time.Duration
	Compress          bool
	CompressThreshold int
}

type StorageSettings struct {
	Folder               string
	BlockSize            int
	MaxBlocksPerFolder   int
	SweepGrace           time.Duration
	SweepInterval        time.Duration
	MetaStoreURL         *url.URL
	PostgresMaxIdleConns int
	PostgresMaxOpenConns int
	HTTPListenAddress    string
}
