package config

const (
	defaultLogDir                 = "~/.local/share/texcache/logs"
	defaultStateDir               = "~/.local/share/texcache/state"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 14
	defaultServerHost             = "127.0.0.1"
	defaultServerPort             = 7491
	defaultWebSocketHost          = "127.0.0.1"
	defaultWebSocketPort          = 7492
	defaultWebSocketEndpoint      = "/decode"
	defaultWebSocketSubprotocol   = "texcache.decode.v1"
	defaultWorkerConcurrency      = 4
	defaultWorkerMaxDimension     = 4096
	defaultWorkerFetchTimeoutMs   = 15000
	defaultClientTransport        = "worker"
	defaultCacheMemoryBudgetBytes = 64 * 1024 * 1024
	defaultCacheGraceFrames       = 1
	defaultCacheMaxTextureSize    = 2048
	defaultThrottleBudgetMs       = 10
	defaultThrottleFrameMs        = 16
	defaultStoreMaxMiB            = 256
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Server: Server{
			Enabled: true,
			Host:    defaultServerHost,
			Port:    defaultServerPort,
		},
		WebSocket: WebSocket{
			Enabled:     false,
			Host:        defaultWebSocketHost,
			Port:        defaultWebSocketPort,
			Endpoint:    defaultWebSocketEndpoint,
			Subprotocol: defaultWebSocketSubprotocol,
		},
		Worker: Worker{
			Concurrency:    defaultWorkerConcurrency,
			MaxDimension:   defaultWorkerMaxDimension,
			FetchTimeoutMs: defaultWorkerFetchTimeoutMs,
		},
		Client: Client{
			Transport: defaultClientTransport,
		},
		Cache: Cache{
			MemoryBudgetBytes: defaultCacheMemoryBudgetBytes,
			GraceFrames:       defaultCacheGraceFrames,
			MaxTextureSize:    defaultCacheMaxTextureSize,
		},
		Throttle: Throttle{
			PerFrameUploadBudgetMs: defaultThrottleBudgetMs,
			FrameIntervalMs:        defaultThrottleFrameMs,
		},
		Store: Store{
			Enabled: false,
			MaxMiB:  defaultStoreMaxMiB,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
