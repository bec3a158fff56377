package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Wake     WakeConfig     `mapstructure:"wake"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	STT      STTConfig      `mapstructure:"stt"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Voice    VoiceConfig    `mapstructure:"voice"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Hue      HueConfig      `mapstructure:"hue"`
	Hub      HubConfig      `mapstructure:"hub"`
	Scripts  ScriptsConfig  `mapstructure:"scripts"`
	IPC      IPCConfig      `mapstructure:"ipc"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type WakeConfig struct {
	Phrases []string `mapstructure:"phrases"`
}

type LLMConfig struct {
	Backend  string        `mapstructure:"backend"` // ollama | openai
	URL      string        `mapstructure:"url"`
	Model    string        `mapstructure:"model"`
	AckModel string        `mapstructure:"ack_model"`
	APIKey   string        `mapstructure:"api_key"`
	Proxy    string        `mapstructure:"proxy"`
	Timeout  time.Duration `mapstructure:"timeout"`

	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type DispatchConfig struct {
	SpeakDelay    time.Duration `mapstructure:"speak_delay"`
	ActDelay      time.Duration `mapstructure:"act_delay"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	UnclearReply  string        `mapstructure:"unclear_reply"`
}

type STTConfig struct {
	Backend     string `mapstructure:"backend"` // whisper | google
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	Threads     int    `mapstructure:"threads"`
	Credentials string `mapstructure:"credentials"`
}

type AudioConfig struct {
	SilenceThreshold float64       `mapstructure:"silence_threshold"`
	SilenceHold      time.Duration `mapstructure:"silence_hold"`
	MaxLength        time.Duration `mapstructure:"max_length"`
	Calibrate        time.Duration `mapstructure:"calibrate"`
	// Inputs replays recorded files instead of opening the microphone.
	Inputs []string `mapstructure:"inputs"`
}

type VoiceConfig struct {
	Language   string        `mapstructure:"language"`
	Rate       int           `mapstructure:"rate"`
	Duck       bool          `mapstructure:"duck"`
	DuckFactor float64       `mapstructure:"duck_factor"`
	DuckFade   time.Duration `mapstructure:"duck_fade"`
	DuckFloor  int           `mapstructure:"duck_floor"`
}

type NotifyConfig struct {
	Chime   string `mapstructure:"chime"`
	Desktop bool   `mapstructure:"desktop"`
}

type HueConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Light    string `mapstructure:"light"`
}

type HubConfig struct {
	URL     string        `mapstructure:"url"`
	Shard   string        `mapstructure:"shard"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ScriptsConfig struct {
	Timeout  time.Duration     `mapstructure:"timeout"`
	Commands map[string]string `mapstructure:"commands"`
}

type IPCConfig struct {
	Socket string `mapstructure:"socket"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]any{
	"log.level": "info",

	"wake.phrases": []string{
		"hey athena",
		"okay athena",
		"athena",
		"yo athena",
		"good morning athena",
		"good afternoon athena",
	},

	"llm.backend":          "ollama",
	"llm.url":              "http://localhost:11434",
	"llm.model":            "mistral",
	"llm.ack_model":        "",
	"llm.api_key":          "",
	"llm.proxy":            "",
	"llm.timeout":          "30s",
	"llm.breaker_failures": 3,
	"llm.breaker_cooldown": "30s",

	"dispatch.speak_delay":    "1.2s",
	"dispatch.act_delay":      "600ms",
	"dispatch.action_timeout": "10s",
	"dispatch.unclear_reply":  "",

	"stt.backend":     "whisper",
	"stt.model":       "third_party/whisper.cpp/models/ggml-base.en.bin",
	"stt.language":    "en",
	"stt.threads":     0,
	"stt.credentials": "",

	"audio.silence_threshold": 0.015,
	"audio.silence_hold":      "600ms",
	"audio.max_length":        "10s",
	"audio.calibrate":         "1s",
	"audio.inputs":            []string{},

	"voice.language":    "en",
	"voice.rate":        175,
	"voice.duck":        false,
	"voice.duck_factor": 0.3,
	"voice.duck_fade":   "300ms",
	"voice.duck_floor":  10,

	"notify.chime":   "beep.mp3",
	"notify.desktop": true,

	"hue.address":  "192.168.1.10",
	"hue.username": "",
	"hue.light":    "Monitor Backlight",

	"hub.url":     "",
	"hub.shard":   "ATHENA",
	"hub.timeout": "5s",

	"scripts.timeout":  "30s",
	"scripts.commands": map[string]string{},

	"ipc.socket": "/tmp/athena.sock",

	"metrics.addr": "",
}

// Load reads, in increasing priority: defaults, config file, .env and
// ATHENA_* environment, command-line flags.
func Load(args []string) (*Config, error) {
	fs := cli.NewFlagSet("athena", cli.ContinueOnError)
	envFile := fs.StringP("env", "e", ".env", "Env file path")
	cfgFile := fs.StringP("config", "c", "", "Config file (yaml); default ./athena.yaml or ~/.config/athena/athena.yaml")
	fs.StringP("log", "l", "info", "Log level")
	fs.StringP("proxy", "p", "", "Socks proxy address for model calls")
	fs.StringP("model", "m", "mistral", "Model used to resolve commands")
	fs.String("llm-url", "http://localhost:11434", "Inference server base url")
	fs.String("stt", "whisper", "Speech backend: whisper or google")
	fs.String("metrics-addr", "", "Serve prometheus metrics on this address")
	fs.StringSliceP("input", "i", nil, "Replay audio files instead of the microphone")
	fs.String("socket", "/tmp/athena.sock", "Control socket path")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("ATHENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("llm.api_key", "ATHENA_LLM_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("stt.credentials", "ATHENA_STT_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS")

	for key, flag := range map[string]string{
		"log.level":    "log",
		"llm.proxy":    "proxy",
		"llm.model":    "model",
		"llm.url":      "llm-url",
		"stt.backend":  "stt",
		"metrics.addr": "metrics-addr",
		"audio.inputs": "input",
		"ipc.socket":   "socket",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", flag, err)
		}
	}

	if *cfgFile != "" {
		v.SetConfigFile(*cfgFile)
	} else {
		v.SetConfigName("athena")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "athena"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.LLM.AckModel == "" {
		cfg.LLM.AckModel = cfg.LLM.Model
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Backend {
	case "ollama":
	case "openai":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key (or OPENAI_API_KEY) is required for the openai backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.backend: unknown %q", c.LLM.Backend))
	}

	switch c.STT.Backend {
	case "whisper":
		if c.STT.Model == "" {
			errs = append(errs, errors.New("stt.model: empty"))
		}
	case "google":
	default:
		errs = append(errs, fmt.Errorf("stt.backend: unknown %q", c.STT.Backend))
	}

	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model: empty"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout: must be positive"))
	}
	if c.Dispatch.ActionTimeout <= 0 {
		errs = append(errs, errors.New("dispatch.action_timeout: must be positive"))
	}
	if c.Dispatch.SpeakDelay < 0 || c.Dispatch.ActDelay < 0 {
		errs = append(errs, errors.New("dispatch delays must not be negative"))
	}
	if c.Voice.DuckFactor < 0 || c.Voice.DuckFactor > 1 {
		errs = append(errs, fmt.Errorf("voice.duck_factor: %v not in [0,1]", c.Voice.DuckFactor))
	}
	if len(c.Wake.Phrases) == 0 {
		errs = append(errs, errors.New("wake.phrases: empty"))
	}
	if _, ok := LogLevels[strings.ToLower(c.Log.Level)]; !ok {
		errs = append(errs, fmt.Errorf("log.level: unknown %q", c.Log.Level))
	}

	return errors.Join(errs...)
}
