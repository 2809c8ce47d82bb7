package config

import "github.com/codeready-toolchain/opsagent/pkg/tool"

// Config is the umbrella configuration object encapsulating every
// SPEC_FULL §6 configuration surface plus the tool registry. This is the
// object Initialize() returns and every subsystem constructor takes a
// pointer to (or a narrowed sub-config of).
type Config struct {
	configDir string

	Policy   *PolicyConfig
	Approval *ApprovalConfig
	Learning *LearningConfig
	Budget   *BudgetConfig
	Storage  *StorageConfig

	ToolRegistry *tool.LiveRegistry
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats reports the size of the loaded configuration, for startup logging.
type Stats struct {
	Tools       int
	CustomRules int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{
		Tools:       c.ToolRegistry.Current().Len(),
		CustomRules: len(c.Policy.CustomRules),
	}
}

// GetTool retrieves a tool definition by id from the live registry.
func (c *Config) GetTool(id string) (*tool.Tool, bool) {
	return c.ToolRegistry.Current().Get(id)
}
