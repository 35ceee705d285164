package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied when neither file nor environment provide a value.
const (
	DefaultEngineHTTPURL = "http://127.0.0.1:8000"
	DefaultViewerAddr    = ":8090"
	DefaultDataDir       = "data"
	DefaultOutputDir     = "Output"
	DefaultHistoryLimit  = 100
	DefaultSessionTTL    = 24 * time.Hour
)

// EngineConfig locates the generation engine.
type EngineConfig struct {
	HTTPURL string `yaml:"http_url"`
	WSURL   string `yaml:"ws_url"`
	// RestartCommand is the shell command that restarts the engine
	// process, when one is available on this host.
	RestartCommand string `yaml:"restart_command"`
}

// ViewerConfig controls the embedded graph viewer server.
type ViewerConfig struct {
	Addr       string        `yaml:"addr"`
	BaseURL    string        `yaml:"base_url"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	// RedisURL switches viewer sessions from in-memory to redis when set.
	RedisURL string `yaml:"redis_url"`
}

// StorageConfig controls on-disk workflow and output locations.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	// OutputDir is where the engine writes images locally.
	OutputDir string `yaml:"output_dir"`
	// SharedOutputDir is a mount both engine and control plane can see.
	// Falls back to OutputDir.
	SharedOutputDir string `yaml:"shared_output_dir"`
	DownloadDir     string `yaml:"download_dir"`
	TemplatesDir    string `yaml:"templates_dir"`
	HistoryLimit    int    `yaml:"history_limit"`
}

// Config is the full control-plane configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Storage StorageConfig `yaml:"storage"`
}

// Load reads an optional YAML file, layers environment overrides on
// top, fills defaults and validates. A missing file is not an error;
// the environment and defaults still apply.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, apperrors.Wrap(err, apperrors.CategoryBadInput, "failed to parse config file").
					WithTextCode("CONFIG_PARSE").
					WithMetadata(map[string]any{"path": path})
			}
		case os.IsNotExist(err):
			// fall through to env + defaults
		default:
			return cfg, apperrors.Wrap(err, apperrors.CategoryExternal, "failed to read config file").
				WithTextCode("CONFIG_READ").
				WithMetadata(map[string]any{"path": path})
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets the environment override file values. Env wins.
func (c *Config) applyEnv() {
	setString(&c.Engine.HTTPURL, "FLOWPILOT_ENGINE_URL")
	setString(&c.Engine.WSURL, "FLOWPILOT_ENGINE_WS_URL")
	setString(&c.Engine.RestartCommand, "FLOWPILOT_RESTART_CMD")
	setString(&c.Viewer.Addr, "FLOWPILOT_VIEWER_ADDR")
	setString(&c.Viewer.BaseURL, "FLOWPILOT_VIEWER_BASE_URL")
	setString(&c.Viewer.RedisURL, "FLOWPILOT_REDIS_URL")
	setDuration(&c.Viewer.SessionTTL, "FLOWPILOT_SESSION_TTL")
	setString(&c.Storage.DataDir, "FLOWPILOT_DATA_DIR")
	setString(&c.Storage.OutputDir, "FLOWPILOT_OUTPUT_DIR")
	setString(&c.Storage.SharedOutputDir, "FLOWPILOT_SHARED_OUTPUT_DIR")
	setString(&c.Storage.DownloadDir, "FLOWPILOT_DOWNLOAD_DIR")
	setString(&c.Storage.TemplatesDir, "FLOWPILOT_TEMPLATES_DIR")
	setInt(&c.Storage.HistoryLimit, "FLOWPILOT_HISTORY_LIMIT")
}

func (c *Config) applyDefaults() {
	if c.Engine.HTTPURL == "" {
		c.Engine.HTTPURL = DefaultEngineHTTPURL
	}
	c.Engine.HTTPURL = strings.TrimRight(c.Engine.HTTPURL, "/")
	if c.Engine.WSURL == "" {
		c.Engine.WSURL = deriveWSURL(c.Engine.HTTPURL)
	}
	if c.Viewer.Addr == "" {
		c.Viewer.Addr = DefaultViewerAddr
	}
	if c.Viewer.BaseURL == "" {
		c.Viewer.BaseURL = viewerBaseFromAddr(c.Viewer.Addr)
	}
	if c.Viewer.SessionTTL <= 0 {
		c.Viewer.SessionTTL = DefaultSessionTTL
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = DefaultOutputDir
	}
	if c.Storage.SharedOutputDir == "" {
		c.Storage.SharedOutputDir = c.Storage.OutputDir
	}
	if c.Storage.HistoryLimit <= 0 {
		c.Storage.HistoryLimit = DefaultHistoryLimit
	}
}

// Validate rejects configurations the services cannot start with.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Engine.HTTPURL, "http://") && !strings.HasPrefix(c.Engine.HTTPURL, "https://") {
		return apperrors.New("engine http_url must be an http(s) URL", apperrors.CategoryValidation).
			WithTextCode("CONFIG_INVALID").
			WithMetadata(map[string]any{"http_url": c.Engine.HTTPURL})
	}
	if !strings.HasPrefix(c.Engine.WSURL, "ws://") && !strings.HasPrefix(c.Engine.WSURL, "wss://") {
		return apperrors.New("engine ws_url must be a ws(s) URL", apperrors.CategoryValidation).
			WithTextCode("CONFIG_INVALID").
			WithMetadata(map[string]any{"ws_url": c.Engine.WSURL})
	}
	return nil
}

// EnsureDirectories creates the working directories. The shared output
// directory may live on a mount managed elsewhere, so failures there
// are tolerated.
func (c Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.DataDir, c.Storage.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.Wrap(err, apperrors.CategoryExternal, "failed to create directory").
				WithTextCode("CONFIG_MKDIR").
				WithMetadata(map[string]any{"dir": dir})
		}
	}
	if c.Storage.DownloadDir != "" {
		if err := os.MkdirAll(c.Storage.DownloadDir, 0o755); err != nil {
			return apperrors.Wrap(err, apperrors.CategoryExternal, "failed to create directory").
				WithTextCode("CONFIG_MKDIR").
				WithMetadata(map[string]any{"dir": c.Storage.DownloadDir})
		}
	}
	if c.Storage.SharedOutputDir != c.Storage.OutputDir {
		_ = os.MkdirAll(c.Storage.SharedOutputDir, 0o755)
	}
	return nil
}

// deriveWSURL maps the engine HTTP endpoint onto its websocket one.
func deriveWSURL(httpURL string) string {
	ws := strings.Replace(httpURL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return ws + "/ws"
}

func viewerBaseFromAddr(addr string) string {
	host, port, found := strings.Cut(addr, ":")
	if !found {
		return "http://" + addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
