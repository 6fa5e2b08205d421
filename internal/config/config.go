package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config bundles every tunable the server reads once at startup,
// Viper-backed the same way the teacher's config.Load does it:
// defaults registered first, an optional YAML file layered on top,
// then environment variables given the final say.
type Config struct {
	Server  ServerConfig
	Health  HealthConfig
	Worker  WorkerConfig
	Job     JobConfig
	FFmpeg  FFmpegConfig
	Upload  UploadConfig
	Cleanup CleanupConfig
	Log     LogConfig
	WS      WSConfig
	Auth    AuthConfig
	Archive ArchiveConfig
	Redis   RedisConfig

	WorkRoot string
}

type ServerConfig struct {
	Host string
	Port string
}

type HealthConfig struct {
	Port string
}

type WorkerConfig struct {
	Count int
}

type JobConfig struct {
	Timeout  time.Duration
	QueueCap int
}

type FFmpegConfig struct {
	Path       string
	ProbePath  string
	ThreadHint int
}

type UploadConfig struct {
	MaxBytes int64
}

type CleanupConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
}

type LogConfig struct {
	Level string
}

// WSConfig holds the WebSocket transport settings. FrameSizeCap is
// applied as the Fiber app's request BodyLimit. KeepaliveInterval and
// KeepaliveTimeout are loaded but not applied to connections; no
// keepalive pings are sent.
type WSConfig struct {
	FrameSizeCap      int64
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration

	// MaxConns bounds total concurrent connections; 0 means unbounded.
	MaxConns int
	// MaxConnsPerIP bounds concurrent connections from a single source
	// IP; 0 means unbounded. This is the "basic per-IP connection cap"
	// SPEC_FULL's Non-goals carve back into scope.
	MaxConnsPerIP int
}

// AuthConfig gates admission to /ws behind a static API key, passed as
// the api_key query parameter or X-API-Key header, or as the HMAC secret
// of a bearer JWT. An empty key disables the gate
// entirely — this is the lightweight check called out as the only
// authentication in scope.
type AuthConfig struct {
	APIKey string
}

// ArchiveConfig optionally routes completed artifacts to an
// S3-compatible bucket in addition to the websocket delivery path.
// Disabled by default.
type ArchiveConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
}

// RedisConfig optionally points the hub's per-IP connection cap at a
// shared Redis instance instead of an in-memory counter, the same
// instance a multi-instance deployment would also point its durable
// job queue (RedisBackend) at. Disabled by default.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("health.port", "8081")
	viper.SetDefault("worker.count", 4)
	viper.SetDefault("job.timeout", "15m")
	viper.SetDefault("job.queue_cap", 64)
	viper.SetDefault("ffmpeg.path", "ffmpeg")
	viper.SetDefault("ffmpeg.probe_path", "ffprobe")
	viper.SetDefault("ffmpeg.thread_hint", 0)
	viper.SetDefault("upload.max_bytes", 2*1024*1024*1024)
	viper.SetDefault("cleanup.interval", "60s")
	viper.SetDefault("cleanup.max_age", "10m")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("ws.frame_size_cap", 16*1024*1024)
	viper.SetDefault("ws.keepalive_interval", "30s")
	viper.SetDefault("ws.keepalive_timeout", "90s")
	viper.SetDefault("ws.max_conns", 0)
	viper.SetDefault("ws.max_conns_per_ip", 0)
	viper.SetDefault("auth.api_key", "")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.endpoint", "")
	viper.SetDefault("archive.region", "")
	viper.SetDefault("archive.access_key_id", "")
	viper.SetDefault("archive.secret_access_key", "")
	viper.SetDefault("archive.bucket", "")
	viper.SetDefault("archive.public_url", "")
	viper.SetDefault("work_root", "/tmp/mediaforge")

	// Config file is optional; env vars and defaults alone are enough
	// to run.
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetString("server.port"),
		},
		Health: HealthConfig{
			Port: viper.GetString("health.port"),
		},
		Worker: WorkerConfig{
			Count: viper.GetInt("worker.count"),
		},
		Job: JobConfig{
			Timeout:  viper.GetDuration("job.timeout"),
			QueueCap: viper.GetInt("job.queue_cap"),
		},
		FFmpeg: FFmpegConfig{
			Path:       viper.GetString("ffmpeg.path"),
			ProbePath:  viper.GetString("ffmpeg.probe_path"),
			ThreadHint: viper.GetInt("ffmpeg.thread_hint"),
		},
		Upload: UploadConfig{
			MaxBytes: viper.GetInt64("upload.max_bytes"),
		},
		Cleanup: CleanupConfig{
			Interval: viper.GetDuration("cleanup.interval"),
			MaxAge:   viper.GetDuration("cleanup.max_age"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		WS: WSConfig{
			FrameSizeCap:      viper.GetInt64("ws.frame_size_cap"),
			KeepaliveInterval: viper.GetDuration("ws.keepalive_interval"),
			KeepaliveTimeout:  viper.GetDuration("ws.keepalive_timeout"),
			MaxConns:          viper.GetInt("ws.max_conns"),
			MaxConnsPerIP:     viper.GetInt("ws.max_conns_per_ip"),
		},
		Auth: AuthConfig{
			APIKey: viper.GetString("auth.api_key"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Archive: ArchiveConfig{
			Enabled:         viper.GetBool("archive.enabled"),
			Endpoint:        viper.GetString("archive.endpoint"),
			Region:          viper.GetString("archive.region"),
			AccessKeyID:     viper.GetString("archive.access_key_id"),
			SecretAccessKey: viper.GetString("archive.secret_access_key"),
			Bucket:          viper.GetString("archive.bucket"),
			PublicURL:       viper.GetString("archive.public_url"),
		},
		WorkRoot: viper.GetString("work_root"),
	}

	return cfg, nil
}
