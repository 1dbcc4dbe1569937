package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type testConfig struct {
	APIKey  string        `mapstructure:"api_key" json:"api_key"`
	Model   string        `mapstructure:"model" json:"model"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	Log     struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"log" json:"log"`
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_EmptyPathUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("GEMTEST_LOG_LEVEL", "debug")

	c, err := Load("",
		WithDefaults[testConfig](map[string]any{
			"model":     "gemini-2.5-flash",
			"timeout":   "30s",
			"log.level": "info",
		}),
		WithEnv[testConfig]("GEMTEST"),
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := c.Get()
	if got.Model != "gemini-2.5-flash" {
		t.Errorf("Model = %q", got.Model)
	}
	if got.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", got.Timeout)
	}
	if got.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want env override", got.Log.Level)
	}
	if c.Path() != "" {
		t.Errorf("Path() = %q", c.Path())
	}
}

func TestLoad_BindEnvWithoutPrefix(t *testing.T) {
	t.Setenv("GEMTEST_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "secret")

	c, err := Load("",
		WithEnv[testConfig]("GEMTEST"),
		WithBindEnv[testConfig]("api_key", "GEMTEST_API_KEY", "GEMINI_API_KEY"),
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := c.Get().APIKey; got != "secret" {
		t.Errorf("APIKey = %q", got)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gem.yaml")
	writeFile(t, path, "model: gemini-2.5-pro\nlog:\n  level: warn\n")

	c, err := Load(path,
		WithDefaults[testConfig](map[string]any{"model": "gemini-2.5-flash", "timeout": "1m"}),
		WithoutWatch[testConfig](),
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := c.Get()
	if got.Model != "gemini-2.5-pro" || got.Log.Level != "warn" || got.Timeout != time.Minute {
		t.Errorf("Get() = %+v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load[testConfig](filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	c, err := Load("", WithDefaults[testConfig](map[string]any{"model": "a"}))
	if err != nil {
		t.Fatal(err)
	}
	got := c.Get()
	got.Model = "mutated"
	if c.Get().Model != "a" {
		t.Error("Get() must not expose internal state")
	}
}

func TestReload_FiresOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gem.json")
	writeFile(t, path, `{"model":"gemini-2.5-flash"}`)

	c, err := Load[testConfig](path, WithoutWatch[testConfig]())
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	c.OnChange(func(old, new testConfig) {
		calls.Add(1)
		if old.Model != "gemini-2.5-flash" || new.Model != "gemini-2.5-pro" {
			t.Errorf("OnChange(%q, %q)", old.Model, new.Model)
		}
	})

	// 未变化不触发
	if err := c.Reload(); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Fatalf("callback fired without a change")
	}

	writeFile(t, path, `{"model":"gemini-2.5-pro"}`)
	if err := c.Reload(); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestReload_BadFileKeepsOldValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gem.json")
	writeFile(t, path, `{"model":"gemini-2.5-flash"}`)

	c, err := Load[testConfig](path, WithoutWatch[testConfig]())
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, `{"model":`)
	if err := c.Reload(); err == nil {
		t.Fatal("Reload() should fail on a broken file")
	}
	if c.Get().Model != "gemini-2.5-flash" {
		t.Errorf("Model = %q, want previous value", c.Get().Model)
	}
}

func TestReload_CallbackPanicReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gem.json")
	writeFile(t, path, `{"model":"a"}`)

	var reported error
	c, err := Load[testConfig](path,
		WithoutWatch[testConfig](),
		WithErrorHandler[testConfig](func(err error) { reported = err }),
	)
	if err != nil {
		t.Fatal(err)
	}
	var second bool
	c.OnChange(func(_, _ testConfig) { panic("boom") })
	c.OnChange(func(_, _ testConfig) { second = true })

	writeFile(t, path, `{"model":"b"}`)
	if err := c.Reload(); err != nil {
		t.Fatal(err)
	}
	if reported == nil {
		t.Error("panic was not reported")
	}
	if !second {
		t.Error("a panicking callback must not stop the others")
	}
}

func TestWatch_FileChangeTriggersCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gem.yaml")
	writeFile(t, path, "model: a\n")

	c, err := Load[testConfig](path)
	if err != nil {
		t.Fatal(err)
	}
	changed := make(chan testConfig, 1)
	c.OnChange(func(_, new testConfig) {
		select {
		case changed <- new:
		default:
		}
	})

	writeFile(t, path, "model: b\n")
	select {
	case got := <-changed:
		if got.Model != "b" {
			t.Errorf("Model = %q", got.Model)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestChanged(t *testing.T) {
	if Changed(1, 1) {
		t.Error("Changed(1, 1)")
	}
	if !Changed([]string{"a"}, []string{"b"}) {
		t.Error("Changed(a, b)")
	}
}
