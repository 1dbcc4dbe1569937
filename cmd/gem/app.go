package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lgc202/gemkit/config"
	"github.com/lgc202/gemkit/gem"
	"github.com/lgc202/gemkit/version"
)

type settingsConfig struct {
	// Safety is one threshold applied to every harm category, e.g. "none".
	Safety            string   `mapstructure:"safety" json:"safety" yaml:"safety"`
	ThinkingBudget    *int     `mapstructure:"thinking_budget" json:"thinking_budget" yaml:"thinking_budget"`
	StreamMaxJSONSize int      `mapstructure:"stream_max_json_size" json:"stream_max_json_size" yaml:"stream_max_json_size"`
	Temperature       *float64 `mapstructure:"temperature" json:"temperature" yaml:"temperature"`
	MaxOutputTokens   int      `mapstructure:"max_output_tokens" json:"max_output_tokens" yaml:"max_output_tokens"`
	SystemInstruction string   `mapstructure:"system_instruction" json:"system_instruction" yaml:"system_instruction"`
}

type cliConfig struct {
	APIKey         string        `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	BaseURL        string        `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	Model          string        `mapstructure:"model" json:"model" yaml:"model"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	SendTimeout    time.Duration `mapstructure:"send_timeout" json:"send_timeout" yaml:"send_timeout"`
	SSE            bool          `mapstructure:"sse" json:"sse" yaml:"sse"`
	RateLimit      float64       `mapstructure:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	Burst          int           `mapstructure:"burst" json:"burst" yaml:"burst"`

	Log struct {
		Level  string `mapstructure:"level" json:"level" yaml:"level"`
		Format string `mapstructure:"format" json:"format" yaml:"format"`
	} `mapstructure:"log" json:"log" yaml:"log"`

	Settings settingsConfig `mapstructure:"settings" json:"settings" yaml:"settings"`
}

var defaults = map[string]any{
	"api_key":                       "",
	"base_url":                      "",
	"model":                         string(gem.DefaultModel),
	"connect_timeout":               "10s",
	"read_timeout":                  "60s",
	"timeout":                       "0s",
	"send_timeout":                  "2m",
	"sse":                           false,
	"rate_limit":                    0,
	"burst":                         1,
	"log.level":                     "warn",
	"log.format":                    "text",
	"settings.safety":               "",
	"settings.stream_max_json_size": gem.DefaultStreamMaxJSONSize,
	"settings.max_output_tokens":    0,
	"settings.system_instruction":   "",
}

type app struct {
	configPath string
	model      string
	output     string
	logLevel   string
	stats      bool

	cfg      *config.Config[cliConfig]
	logger   *slog.Logger
	registry *prometheus.Registry

	stdin          io.Reader
	stdout, stderr io.Writer
}

func (a *app) load(watch bool) error {
	opts := []config.Option[cliConfig]{
		config.WithDefaults[cliConfig](defaults),
		config.WithEnv[cliConfig]("GEM"),
		config.WithBindEnv[cliConfig]("api_key", "GEM_API_KEY", "GEMINI_API_KEY"),
		config.WithBindEnv[cliConfig]("base_url", "GEM_BASE_URL", "GEMINI_BASE_URL"),
		config.WithErrorHandler[cliConfig](func(err error) {
			if a.logger != nil {
				a.logger.Warn("config reload failed", "error", err)
			}
		}),
	}
	if !watch {
		opts = append(opts, config.WithoutWatch[cliConfig]())
	}
	cfg, err := config.Load(a.configPath, opts...)
	if err != nil {
		return err
	}
	a.cfg = cfg

	c := cfg.Get()
	level := c.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.logger, err = newLogger(a.stderr, level, c.Log.Format)
	if err != nil {
		return err
	}
	if a.stats {
		a.registry = prometheus.NewRegistry()
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lv}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", format)
	}
}

var errNoAPIKey = errors.New("no API key: set GEMINI_API_KEY or api_key in the config file")

func (a *app) newSession(hist *gem.Context) (*gem.Session, error) {
	c := a.cfg.Get()
	name := c.Model
	if a.model != "" {
		name = a.model
	}
	model, err := gem.ParseModel(name)
	if err != nil {
		return nil, err
	}
	if c.APIKey == "" && c.BaseURL == "" {
		return nil, errNoAPIKey
	}

	b := gem.NewBuilder().
		Model(model).
		ConnectTimeout(c.ConnectTimeout).
		ReadTimeout(c.ReadTimeout).
		Timeout(c.Timeout).
		SendTimeout(c.SendTimeout).
		APIKey(c.APIKey).
		Logger(a.logger).
		UserAgent(version.UserAgent("gem")).
		SSE(c.SSE).
		Context(hist)
	if c.BaseURL != "" {
		b.BaseURL(c.BaseURL)
	}
	if c.RateLimit > 0 {
		b.RateLimit(c.RateLimit, c.Burst)
	}
	if a.registry != nil {
		b.Metrics(a.registry)
	}
	return b.Build()
}

func settingsFrom(sc settingsConfig) (*gem.Settings, error) {
	s := gem.NewSettings()
	if sc.Safety != "" {
		t, err := gem.ParseHarmBlockThreshold(sc.Safety)
		if err != nil {
			return nil, err
		}
		if err := s.SetAllSafetySettings(t); err != nil {
			return nil, err
		}
	}
	if sc.ThinkingBudget != nil {
		if err := s.SetThinkingBudget(*sc.ThinkingBudget); err != nil {
			return nil, err
		}
	}
	if sc.StreamMaxJSONSize != 0 {
		if err := s.SetStreamMaxJSONSize(sc.StreamMaxJSONSize); err != nil {
			return nil, err
		}
	}
	if sc.Temperature != nil {
		if err := s.SetTemperature(*sc.Temperature); err != nil {
			return nil, err
		}
	}
	if sc.MaxOutputTokens != 0 {
		if err := s.SetMaxOutputTokens(sc.MaxOutputTokens); err != nil {
			return nil, err
		}
	}
	s.SetSystemInstruction(sc.SystemInstruction)
	return s, nil
}

func (a *app) settings() (*gem.Settings, error) {
	return settingsFrom(a.cfg.Get().Settings)
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "gem",
		Short:         "Gemini API client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.output = strings.ToLower(strings.TrimSpace(a.output))
			switch a.output {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q", a.output)
			}
			return a.load(cmd.Name() == "chat")
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.registry == nil {
				return nil
			}
			return writeStats(a.stderr, a.registry)
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "config file (yaml, json or toml)")
	f.StringVarP(&a.model, "model", "m", "", "model name, overrides the config")
	f.StringVarP(&a.output, "output", "o", "text", "output format: text, json or yaml")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	f.BoolVar(&a.stats, "stats", false, "print request metrics to stderr on exit")

	root.AddCommand(
		newSendCmd(a),
		newStreamCmd(a),
		newChatCmd(a),
		newFilesCmd(a),
		newModelsCmd(a),
		newVersionCmd(a),
	)
	return root
}
