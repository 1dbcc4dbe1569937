// Package config 基于 viper 加载配置文件与环境变量，并在文件变更时热加载。
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// 变更事件合并窗口，编辑器保存一次常会触发多个 fsnotify 事件
const debounce = 100 * time.Millisecond

// Config 配置管理器
type Config[T any] struct {
	v        *viper.Viper
	path     string
	value    *T
	mu       sync.RWMutex
	watchers []func(old, new T)
	onError  func(error)
	noWatch  bool
}

// Option 配置选项
type Option[T any] func(*Config[T])

// WithDefaults 设置默认值。AutomaticEnv 只对 viper 已知的 key 生效，
// 需要被环境变量覆盖的 key 应在这里给出默认值
func WithDefaults[T any](defaults map[string]any) Option[T] {
	return func(c *Config[T]) {
		for k, v := range defaults {
			c.v.SetDefault(k, v)
		}
	}
}

// WithEnv 绑定带前缀的环境变量，如 prefix=GEM 时 log.level 对应 GEM_LOG_LEVEL
func WithEnv[T any](prefix string) Option[T] {
	return func(c *Config[T]) {
		c.v.SetEnvPrefix(prefix)
		c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.v.AutomaticEnv()
	}
}

// WithBindEnv 将 key 绑定到指定的环境变量（不加前缀），排在前面的优先
func WithBindEnv[T any](key string, envs ...string) Option[T] {
	return func(c *Config[T]) {
		_ = c.v.BindEnv(append([]string{key}, envs...)...)
	}
}

// WithErrorHandler 接收热加载失败和回调 panic，默认忽略
func WithErrorHandler[T any](fn func(error)) Option[T] {
	return func(c *Config[T]) {
		c.onError = fn
	}
}

// WithoutWatch 关闭文件监控，只能通过 Reload 手动重载
func WithoutWatch[T any]() Option[T] {
	return func(c *Config[T]) {
		c.noWatch = true
	}
}

// Load 加载配置。path 为空时只使用默认值和环境变量，也不会监控文件
func Load[T any](path string, opts ...Option[T]) (*Config[T], error) {
	v := viper.New()
	path = strings.TrimSpace(path)
	if path != "" {
		v.SetConfigFile(path)
	}

	c := &Config[T]{v: v, path: path}
	for _, opt := range opts {
		opt(c)
	}

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var val T
	if err := v.Unmarshal(&val); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.value = &val

	if path != "" && !c.noWatch {
		c.watch()
	}
	return c, nil
}

// Path 返回配置文件路径，未使用文件时为空
func (c *Config[T]) Path() string { return c.path }

// Get 获取当前配置（并发安全，返回深拷贝）
func (c *Config[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopy(*c.value)
}

// OnChange 注册配置变更回调
func (c *Config[T]) OnChange(callback func(old, new T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, callback)
}

// Reload 立即重新读取配置，有变化时触发回调
func (c *Config[T]) Reload() error {
	return c.handleConfigChange()
}

// Changed 比较两个值是否不同
func Changed[T any](old, new T) bool {
	return !reflect.DeepEqual(old, new)
}

// deepCopy 通过 JSON 序列化实现深拷贝
func deepCopy[T any](src T) T {
	var dst T
	data, _ := json.Marshal(src)
	_ = json.Unmarshal(data, &dst)
	return dst
}

func (c *Config[T]) watch() {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
	)

	c.v.OnConfigChange(func(_ fsnotify.Event) {
		debounceMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(debounce, func() {
			if err := c.handleConfigChange(); err != nil {
				c.report(err)
			}
		})
		debounceMu.Unlock()
	})

	c.v.WatchConfig()
}

func (c *Config[T]) handleConfigChange() error {
	oldConfig := c.Get()

	newConfig, watchers, err := c.reloadConfig()
	if err != nil {
		return err
	}
	if reflect.DeepEqual(oldConfig, newConfig) {
		return nil
	}

	for _, cb := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.report(fmt.Errorf("config change callback panicked: %v", r))
				}
			}()
			cb(oldConfig, newConfig)
		}()
	}
	return nil
}

// reloadConfig 重新加载配置，返回新配置和回调列表。失败时保留旧配置
func (c *Config[T]) reloadConfig() (T, []func(old, new T), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if c.path != "" {
		if err := c.v.ReadInConfig(); err != nil {
			return zero, nil, fmt.Errorf("reload config %s: %w", c.path, err)
		}
	}

	var val T
	if err := c.v.Unmarshal(&val); err != nil {
		return zero, nil, fmt.Errorf("decode config: %w", err)
	}
	c.value = &val

	watchers := make([]func(old, new T), len(c.watchers))
	copy(watchers, c.watchers)

	return deepCopy(val), watchers, nil
}

func (c *Config[T]) report(err error) {
	c.mu.RLock()
	fn := c.onError
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
