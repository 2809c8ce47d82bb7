package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load .env overlay from configDir (best-effort, teacher's pattern)
//  2. Load opsagent.yaml
//  3. Merge user-supplied values over built-in defaults
//  4. Build the Tool Registry
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	}

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized", "tools", stats.Tools, "custom_rules", stats.CustomRules)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	l := &configLoader{configDir: configDir}

	raw, err := l.loadOpsAgentYAML()
	if err != nil {
		return nil, NewLoadError("opsagent.yaml", err)
	}

	policy := defaultPolicyConfig()
	if raw.Policy != nil {
		if err := mergo.Merge(policy, raw.Policy, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging policy config: %w", err)
		}
	}

	approval := defaultApprovalConfig()
	if raw.Approval != nil {
		if err := mergo.Merge(approval, raw.Approval, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging approval config: %w", err)
		}
	}

	learning := defaultLearningConfig()
	if raw.Learning != nil {
		if err := mergo.Merge(learning, raw.Learning, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging learning config: %w", err)
		}
	}

	budget := defaultBudgetConfig()
	if raw.Budget != nil {
		if err := mergo.Merge(budget, raw.Budget, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging budget config: %w", err)
		}
	}

	storage := defaultStorageConfig()
	if raw.Storage != nil {
		if err := mergo.Merge(storage, raw.Storage, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging storage config: %w", err)
		}
	}

	registry, err := tool.NewRegistry(raw.Tools)
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}

	return &Config{
		configDir:    configDir,
		Policy:       policy,
		Approval:     approval,
		Learning:     learning,
		Budget:       budget,
		Storage:      storage,
		ToolRegistry: tool.NewLiveRegistry(registry),
	}, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadOpsAgentYAML() (*OpsAgentYAMLConfig, error) {
	var raw OpsAgentYAMLConfig
	raw.Tools = make(map[string]tool.Tool)

	if err := l.loadYAML("opsagent.yaml", &raw); err != nil {
		return nil, err
	}

	return &raw, nil
}

// Watcher hot-reloads opsagent.yaml's `tools:` section into a live
// *tool.Registry on change. Only the tool registry is hot-swapped;
// Policy/Approval/Learning/Budget config changes require a restart
// because they are read into value-typed fields other packages may have
// already copied out of Config at startup.
type Watcher struct {
	configDir string
	registry  *tool.LiveRegistry
	watcher   *fsnotify.Watcher
}

// NewWatcher starts watching configDir for changes to opsagent.yaml.
func NewWatcher(configDir string, registry *tool.LiveRegistry) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fw.Add(configDir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", configDir, err)
	}
	w := &Watcher{configDir: configDir, registry: registry, watcher: fw}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	target := filepath.Join(w.configDir, "opsagent.yaml")
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l := &configLoader{configDir: w.configDir}
			raw, err := l.loadOpsAgentYAML()
			if err != nil {
				slog.Error("hot-reload: failed to reload opsagent.yaml, keeping previous tool registry", "error", err)
				continue
			}
			reg, err := tool.NewRegistry(raw.Tools)
			if err != nil {
				slog.Error("hot-reload: invalid tool registry, keeping previous", "error", err)
				continue
			}
			w.registry.Swap(reg)
			slog.Info("hot-reload: tool registry reloaded", "tools", reg.Len())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
