package quickjs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	quickjswasi "github.com/paralin/go-quickjs-wasi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Engine owns the shared WASM runtime and the compiled QuickJS module.
// One engine serves any number of backends; the interpreter is compiled
// at most once and instantiated per backend.
type Engine struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache

	mu       sync.Mutex
	compiled wazero.CompiledModule
	closed   bool
}

type engineConfig struct {
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32
}

// EngineOption configures the Engine at creation time.
type EngineOption func(*engineConfig)

// WithDiskCache enables a persistent compilation cache for faster cold
// starts. Optionally provide a custom directory; otherwise XDG_CACHE_HOME
// or ~/.cache is used.
func WithDiskCache(dir ...string) EngineOption {
	return func(c *engineConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit caps the memory available to the interpreter. Each page
// is 64KB; 0 means the wazero default.
func WithMemoryLimit(pages uint32) EngineOption {
	return func(c *engineConfig) {
		c.memoryLimitPages = pages
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
)

// NewEngine creates an Engine hosting the QuickJS WASM runtime.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	cfg := engineConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	return &Engine{runtime: rt, cache: cache}, nil
}

// compiledModule returns the compiled interpreter, compiling on first use.
func (e *Engine) compiledModule(ctx context.Context) (wazero.CompiledModule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.compiled != nil {
		return e.compiled, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, quickjswasi.QuickJSWASM)
	if err != nil {
		return nil, fmt.Errorf("compile quickjs: %w", err)
	}
	e.compiled = compiled
	return compiled, nil
}

// Close releases all resources held by the Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()

	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "conch")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "conch")
	}
	return filepath.Join(os.TempDir(), "conch-cache")
}
