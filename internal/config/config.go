package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var messagesYAML []byte

// Camera source kinds.
const (
	SourceSnapshot = "snapshot"
	SourceMJPEG    = "mjpeg"
	SourceDir      = "dir"
)

// Scheduling policies.
const (
	PolicyFixed = "fixed"
	PolicySelf  = "self"
)

// Detection unavailable policies.
const (
	FailClosed = "fail-closed"
	FailOpen   = "fail-open"
)

// Speech engines.
const (
	SpeechNone    = "none"
	SpeechCommand = "command"
	SpeechOpenAI  = "openai"
	SpeechGemini  = "gemini"
)

type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Identity IdentityConfig `yaml:"identity"`
	Loop     LoopConfig     `yaml:"loop"`
	Speech   SpeechConfig   `yaml:"speech"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
	Messages Messages       `yaml:"messages"`
}

type CameraConfig struct {
	Source        string        `yaml:"source"` // snapshot, mjpeg or dir
	URL           string        `yaml:"url"`    // snapshot or MJPEG stream URL
	Dir           string        `yaml:"dir"`    // image directory for the dir source
	MaxFrameAge   time.Duration `yaml:"max_frame_age"`
	SampleTimeout time.Duration `yaml:"sample_timeout"`
}

type DetectorConfig struct {
	URL               string        `yaml:"url"` // defaults to http://localhost:8000
	ScoreThreshold    float64       `yaml:"score_threshold"`
	InputSize         int           `yaml:"input_size"`
	UnavailablePolicy string        `yaml:"unavailable_policy"` // fail-closed or fail-open
	RecheckInterval   time.Duration `yaml:"recheck_interval"`
	MinFaceRatio      float64       `yaml:"min_face_ratio"` // smallest face width relative to the frame; 0 disables
	Timeout           time.Duration `yaml:"timeout"`        // per sidecar request
}

type IdentityConfig struct {
	UploadURL  string        `yaml:"upload_url"`  // object store prefix, key is appended as <key>.jpg
	ResolveURL string        `yaml:"resolve_url"` // match endpoint, objectKey is added as query
	ProfileURL string        `yaml:"profile_url"` // profile endpoint prefix, FaceId is appended
	Timeout    time.Duration `yaml:"timeout"`
}

type LoopConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Policy         string        `yaml:"policy"` // fixed or self
	Hold           time.Duration `yaml:"hold"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	WarmupTimeout  time.Duration `yaml:"warmup_timeout"`
}

type SpeechConfig struct {
	Engine      string `yaml:"engine"`  // none, command, openai or gemini
	Command     string `yaml:"command"` // TTS binary for the command engine (auto-detected if empty)
	OpenAIToken string `yaml:"-"`       // only from OPENAI_TOKEN
	GeminiToken string `yaml:"-"`       // only from GEMINI_API_KEY
	Model       string `yaml:"model"`   // engine default if empty
	Voice       string `yaml:"voice"`   // engine default if empty
	Player      string `yaml:"player"`  // audio player for synthesized speech (auto-detected if empty)
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // host:port, empty disables publishing
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Messages is the catalog of user-facing status texts.
type Messages struct {
	Looking              string `yaml:"looking"`
	Verifying            string `yaml:"verifying"`
	NoFace               string `yaml:"no_face"`
	UploadError          string `yaml:"upload_error"`
	AuthFailed           string `yaml:"auth_failed"`
	NotFound             string `yaml:"not_found"`
	ProfileError         string `yaml:"profile_error"`
	DetectionUnavailable string `yaml:"detection_unavailable"`
	TimedOut             string `yaml:"timed_out"`
	Welcome              string `yaml:"welcome"`
	AlreadyMarked        string `yaml:"already_marked"`
}

// Greeting returns the verified message for the given employee name.
func (m Messages) Greeting(name string, alreadyMarked bool) string {
	tmpl := m.Welcome
	if alreadyMarked {
		tmpl = m.AlreadyMarked
	}
	return strings.ReplaceAll(tmpl, "{name}", name)
}

// DefaultMessages returns the embedded message catalog.
func DefaultMessages() Messages {
	var m Messages
	if err := yaml.Unmarshal(messagesYAML, &m); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded messages.yaml: " + err.Error())
	}
	return m
}

// Default returns a configuration populated with built-in defaults only.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Source:        SourceSnapshot,
			MaxFrameAge:   constants.DefaultMaxFrameAge,
			SampleTimeout: constants.DefaultSampleTimeout,
		},
		Detector: DetectorConfig{
			URL:               "http://localhost:8000",
			ScoreThreshold:    constants.DefaultScoreThreshold,
			InputSize:         constants.DefaultDetectorInputSize,
			UnavailablePolicy: FailClosed,
			RecheckInterval:   constants.DefaultDetectorRecheck,
			MinFaceRatio:      constants.DefaultMinFaceRatio,
			Timeout:           constants.DefaultDetectorTimeout,
		},
		Identity: IdentityConfig{
			Timeout: constants.DefaultHTTPTimeout,
		},
		Loop: LoopConfig{
			Interval:       constants.DefaultCaptureInterval,
			Policy:         PolicyFixed,
			Hold:           constants.DefaultHoldDuration,
			AttemptTimeout: constants.DefaultAttemptTimeout,
			WarmupTimeout:  constants.DefaultWarmupTimeout,
		},
		Speech: SpeechConfig{
			Engine: SpeechCommand,
		},
		MQTT: MQTTConfig{
			ClientID:    "attendance-kiosk",
			TopicPrefix: "kiosk",
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Log: LogConfig{
			Level: "info",
		},
		Messages: DefaultMessages(),
	}
}

// Load builds the configuration from defaults, then the optional YAML file at
// path, then environment variables. Environment always wins.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // user-provided config path
		if err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Camera.Source = envString("KIOSK_CAMERA_SOURCE", cfg.Camera.Source)
	cfg.Camera.URL = envString("KIOSK_CAMERA_URL", cfg.Camera.URL)
	cfg.Camera.Dir = envString("KIOSK_CAMERA_DIR", cfg.Camera.Dir)
	cfg.Camera.MaxFrameAge = envDuration("KIOSK_CAMERA_MAX_FRAME_AGE", cfg.Camera.MaxFrameAge)
	cfg.Camera.SampleTimeout = envDuration("KIOSK_CAMERA_SAMPLE_TIMEOUT", cfg.Camera.SampleTimeout)

	cfg.Detector.URL = envString("KIOSK_DETECTOR_URL", cfg.Detector.URL)
	cfg.Detector.ScoreThreshold = envFloat("KIOSK_DETECTOR_SCORE_THRESHOLD", cfg.Detector.ScoreThreshold)
	cfg.Detector.InputSize = envInt("KIOSK_DETECTOR_INPUT_SIZE", cfg.Detector.InputSize)
	cfg.Detector.UnavailablePolicy = envString("KIOSK_DETECTOR_UNAVAILABLE_POLICY", cfg.Detector.UnavailablePolicy)
	cfg.Detector.RecheckInterval = envDuration("KIOSK_DETECTOR_RECHECK_INTERVAL", cfg.Detector.RecheckInterval)
	cfg.Detector.MinFaceRatio = envFloat("KIOSK_DETECTOR_MIN_FACE_RATIO", cfg.Detector.MinFaceRatio)
	cfg.Detector.Timeout = envDuration("KIOSK_DETECTOR_TIMEOUT", cfg.Detector.Timeout)

	cfg.Identity.UploadURL = envString("KIOSK_UPLOAD_URL", cfg.Identity.UploadURL)
	cfg.Identity.ResolveURL = envString("KIOSK_RESOLVE_URL", cfg.Identity.ResolveURL)
	cfg.Identity.ProfileURL = envString("KIOSK_PROFILE_URL", cfg.Identity.ProfileURL)
	cfg.Identity.Timeout = envDuration("KIOSK_HTTP_TIMEOUT", cfg.Identity.Timeout)

	cfg.Loop.Interval = envDuration("KIOSK_INTERVAL", cfg.Loop.Interval)
	cfg.Loop.Policy = envString("KIOSK_POLICY", cfg.Loop.Policy)
	cfg.Loop.Hold = envDuration("KIOSK_HOLD", cfg.Loop.Hold)
	cfg.Loop.AttemptTimeout = envDuration("KIOSK_ATTEMPT_TIMEOUT", cfg.Loop.AttemptTimeout)
	cfg.Loop.WarmupTimeout = envDuration("KIOSK_WARMUP_TIMEOUT", cfg.Loop.WarmupTimeout)

	cfg.Speech.Engine = envString("KIOSK_SPEECH_ENGINE", cfg.Speech.Engine)
	cfg.Speech.Command = envString("KIOSK_SPEECH_COMMAND", cfg.Speech.Command)
	cfg.Speech.OpenAIToken = envString("OPENAI_TOKEN", cfg.Speech.OpenAIToken)
	cfg.Speech.GeminiToken = envString("GEMINI_API_KEY", cfg.Speech.GeminiToken)
	cfg.Speech.Model = envString("KIOSK_SPEECH_MODEL", cfg.Speech.Model)
	cfg.Speech.Voice = envString("KIOSK_SPEECH_VOICE", cfg.Speech.Voice)
	cfg.Speech.Player = envString("KIOSK_SPEECH_PLAYER", cfg.Speech.Player)

	cfg.MQTT.Broker = envString("KIOSK_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = envString("KIOSK_MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.TopicPrefix = envString("KIOSK_MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)

	cfg.Web.Enabled = envBool("KIOSK_WEB_ENABLED", cfg.Web.Enabled)
	cfg.Web.Host = envString("KIOSK_WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = envInt("KIOSK_WEB_PORT", cfg.Web.Port)

	cfg.Log.Level = envString("KIOSK_LOG_LEVEL", cfg.Log.Level)
}

// Validate checks the settings needed by the verification loop.
func (c *Config) Validate() error {
	var errs []error

	switch c.Camera.Source {
	case SourceSnapshot, SourceMJPEG:
		if c.Camera.URL == "" {
			errs = append(errs, errors.New("KIOSK_CAMERA_URL is required for the "+c.Camera.Source+" source"))
		}
	case SourceDir:
		if c.Camera.Dir == "" {
			errs = append(errs, errors.New("KIOSK_CAMERA_DIR is required for the dir source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown camera source %q", c.Camera.Source))
	}

	if err := c.Identity.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Detector.UnavailablePolicy {
	case FailClosed, FailOpen:
	default:
		errs = append(errs, fmt.Errorf("unknown detector unavailable policy %q", c.Detector.UnavailablePolicy))
	}
	if c.Detector.ScoreThreshold <= 0 || c.Detector.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("detector score threshold must be in (0, 1], got %v", c.Detector.ScoreThreshold))
	}
	if c.Detector.MinFaceRatio < 0 || c.Detector.MinFaceRatio >= 1 {
		errs = append(errs, fmt.Errorf("detector min face ratio must be in [0, 1), got %v", c.Detector.MinFaceRatio))
	}
	if c.Detector.Timeout <= 0 {
		errs = append(errs, errors.New("detector timeout must be positive"))
	}

	switch c.Loop.Policy {
	case PolicyFixed, PolicySelf:
	default:
		errs = append(errs, fmt.Errorf("unknown scheduling policy %q", c.Loop.Policy))
	}
	if c.Loop.Interval <= 0 {
		errs = append(errs, errors.New("loop interval must be positive"))
	}
	if c.Loop.Hold < 0 {
		errs = append(errs, errors.New("hold duration must not be negative"))
	}

	switch c.Speech.Engine {
	case SpeechNone, SpeechCommand, SpeechOpenAI, SpeechGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown speech engine %q", c.Speech.Engine))
	}

	return errors.Join(errs...)
}

// Validate checks that every remote identity endpoint is set.
func (c *IdentityConfig) Validate() error {
	var errs []error
	if c.UploadURL == "" {
		errs = append(errs, errors.New("KIOSK_UPLOAD_URL is required"))
	}
	if c.ResolveURL == "" {
		errs = append(errs, errors.New("KIOSK_RESOLVE_URL is required"))
	}
	if c.ProfileURL == "" {
		errs = append(errs, errors.New("KIOSK_PROFILE_URL is required"))
	}
	return errors.Join(errs...)
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration accepts Go duration strings ("5s") or plain seconds ("5").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}
