package config

const (
	defaultConfigPath          = "~/.config/overlaycast/config.toml"
	defaultLogDir              = "~/.local/share/overlaycast/logs"
	defaultDataDir             = "~/.local/share/overlaycast"
	defaultStorePath           = "~/.local/share/overlaycast/overlay.db"
	defaultLogRetentionDays    = 30
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultSourceInput         = "rtsp://localhost:554/stream"
	defaultSourceRetrySeconds  = 5
	defaultSourceProbeSeconds  = 15
	defaultEncoder             = "libx264"
	defaultBitrateKbps         = 4500
	defaultFPS                 = 30
	defaultKeyframeSeconds     = 2
	defaultProfile             = "high"
	defaultLevel               = "4.1"
	defaultTune                = "zerolatency"
	defaultWidth               = 1920
	defaultHeight              = 1080
	defaultQueueFrames         = 8
	defaultEgressStopSeconds   = 5
	defaultRedisKey            = "overlaycast:destinations"
	defaultOverlayRefresh      = 8
	defaultPaymentLabel        = "Donate"
	defaultAPIBind             = "127.0.0.1:5001"
	defaultNotifyTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:  defaultLogDir,
			DataDir: defaultDataDir,
		},
		Tools: Tools{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Source: Source{
			Input:         defaultSourceInput,
			Realtime:      true,
			RetryInterval: defaultSourceRetrySeconds,
			ProbeTimeout:  defaultSourceProbeSeconds,
		},
		Encoding: Encoding{
			Encoder:          defaultEncoder,
			BitrateKbps:      defaultBitrateKbps,
			FPS:              defaultFPS,
			KeyframeInterval: defaultKeyframeSeconds,
			Profile:          defaultProfile,
			Level:            defaultLevel,
			Tune:             defaultTune,
			DefaultWidth:     defaultWidth,
			DefaultHeight:    defaultHeight,
			QueueFrames:      defaultQueueFrames,
		},
		Egress: Egress{
			StopTimeout: defaultEgressStopSeconds,
			RedisKey:    defaultRedisKey,
		},
		Overlay: Overlay{
			RefreshInterval: defaultOverlayRefresh,
			PaymentLabel:    defaultPaymentLabel,
		},
		Store: Store{
			Path: defaultStorePath,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			StreamStarted:  true,
			SourceLost:     true,
			Egress:         true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
