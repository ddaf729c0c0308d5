package ulogger

// TestLogger discards everything. It is used in tests and by the "null" logger type.
type TestLogger struct{}

func (l TestLogger) LogLevel() int { return LevelDebug }

func (l TestLogger) SetLogLevel(string) {}

func (l TestLogger) Debugf(string, ...interface{}) {}

func (l TestLogger) Infof(string, ...interface{}) {}

func (l TestLogger) Warnf(string, ...interface{}) {}

func (l TestLogger) Errorf(string, ...interface{}) {}

func (l TestLogger) Fatalf(string, ...interface{}) {}

func (l TestLogger) New(string, ...Option) Logger { return l }

func (l TestLogger) Duplicate(...Option) Logger { return l }
