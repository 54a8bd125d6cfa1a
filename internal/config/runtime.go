package config

import (
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Runtime 持有进程内当前生效的配置，并以栈的方式支持临时覆盖。
// 组件在每次操作开始时读取 Current()，不缓存旧值。
type Runtime struct {
	mu      sync.RWMutex
	current Config
	saved   []frame
	nextID  uint64
}

// frame 记录一次 Push 之前的配置；id 区分同一深度上先后出现的不同 Push。
type frame struct {
	id  uint64
	cfg Config
}

// NewRuntime 以 cfg 作为初始配置构造 Runtime。
func NewRuntime(cfg Config) *Runtime {
	return &Runtime{current: cfg}
}

// Current 返回当前配置的副本。
func (r *Runtime) Current() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Set 永久应用覆盖项；未知键或校验失败时保持原配置不变。
func (r *Runtime) Set(overrides map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := applyOverrides(r.current, overrides)
	if err != nil {
		return err
	}
	r.current = next
	return nil
}

// Push 应用覆盖项并返回 pop 函数；pop 恢复 Push 之前的配置，重复调用无副作用。
func (r *Runtime) Push(overrides map[string]any) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := applyOverrides(r.current, overrides)
	if err != nil {
		return nil, err
	}

	r.nextID++
	id := r.nextID
	depth := len(r.saved)
	r.saved = append(r.saved, frame{id: id, cfg: r.current})
	r.current = next

	var once sync.Once
	return func() {
		once.Do(func() { r.restore(depth, id) })
	}, nil
}

// With 在覆盖配置下执行 fn，无论 fn 返回错误还是 panic 都会恢复原配置。
func (r *Runtime) With(overrides map[string]any, fn func(Config) error) error {
	pop, err := r.Push(overrides)
	if err != nil {
		return err
	}
	defer pop()
	return fn(r.Current())
}

// restore 只在 depth 处仍是本次 Push 的帧时生效；外层已先行恢复时为空操作。
func (r *Runtime) restore(depth int, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if depth >= len(r.saved) || r.saved[depth].id != id {
		return
	}
	r.current = r.saved[depth].cfg
	r.saved = r.saved[:depth]
}

// applyOverrides 以 key 标签（cache_dir、upload_tmp_dir ...）解码覆盖项。
func applyOverrides(base Config, overrides map[string]any) (Config, error) {
	next := base
	if len(overrides) == 0 {
		return next, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "key",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       durationDecodeHook(),
		Result:           &next,
	})
	if err != nil {
		return base, err
	}
	if err := decoder.Decode(overrides); err != nil {
		return base, fmt.Errorf("无效的配置覆盖: %w", err)
	}
	if err := next.Validate(); err != nil {
		return base, err
	}
	return next, nil
}
