// Package config provides unified configuration for the coderelay CLI.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CODERELAY_ prefix)
//  4. Backward-compatible env var mapping for legacy variable names
//  5. File reference resolution (_file suffix fields)
//  6. Validation
//
// The loaded Config is read once at startup and immutable thereafter.
package config

// Backend identifiers for executor selection.
const (
	BackendSandbox = "sandbox"
	BackendVM      = "vm"
)

// Config holds all configuration for the coderelay CLI.
type Config struct {
	Model         ModelConfig         `yaml:"model"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Chat          ChatConfig          `yaml:"chat"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ModelConfig holds model identity and generation settings.
type ModelConfig struct {
	Project    string `yaml:"project"`      // GCP project id, prompted if missing
	Location   string `yaml:"location"`     // default: "us-central1"
	Name       string `yaml:"name"`         // default: "gemini-2.0-flash"
	APIKey     string `yaml:"api_key"`      // API-key auth mode
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key
	BaseURL    string `yaml:"base_url"`     // endpoint override, mainly for tests

	Temperature     float64 `yaml:"temperature"`       // default: 0.7
	TopP            float64 `yaml:"top_p"`             // default: 0.95
	TopK            int     `yaml:"top_k"`             // default: 40
	MaxOutputTokens int     `yaml:"max_output_tokens"` // default: 2048
}

// ExecutorConfig holds backend selection plus connection parameters.
type ExecutorConfig struct {
	Backend string        `yaml:"backend"` // "sandbox" or "vm", prompted if missing
	Sandbox SandboxConfig `yaml:"sandbox"`
	VM      VMConfig      `yaml:"vm"`
}

// SandboxConfig holds sandbox service settings. URL and Template are
// mutually exclusive provisioning modes.
type SandboxConfig struct {
	APIKey     string `yaml:"api_key"`      // required when backend=sandbox
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key

	// URL is the static address of a running sandbox server
	// (development mode).
	URL string `yaml:"url"`

	// Template is the SandboxTemplate CRD name for SandboxClaim mode.
	Template string `yaml:"template"`

	// Namespace is the Kubernetes namespace for SandboxClaims.
	Namespace string `yaml:"namespace"` // default: "default"

	ClaimTimeout     int `yaml:"claim_timeout"`     // seconds, default: 30
	ExecutionTimeout int `yaml:"execution_timeout"` // seconds, default: 60
}

// VMConfig holds SSH connection parameters for the VM backend.
type VMConfig struct {
	Host         string `yaml:"host"` // required when backend=vm
	User         string `yaml:"user"` // required when backend=vm
	Port         int    `yaml:"port"` // default: 22
	Name         string `yaml:"name"` // instance name, informational
	Zone         string `yaml:"zone"` // default: "us-central1-a"
	IdentityFile string `yaml:"identity_file"`
}

// ChatConfig holds conversation loop settings.
type ChatConfig struct {
	// SystemInstruction is prepended to every chat session.
	SystemInstruction string `yaml:"system_instruction"`

	// ErrorFeedback, when true, sends execution errors back to the
	// model for one repair round per turn.
	ErrorFeedback bool `yaml:"error_feedback"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: false
	Listen  string `yaml:"listen"`  // default: "localhost:9090"
}

// DefaultSystemInstruction is used when chat.system_instruction is unset.
const DefaultSystemInstruction = `You are a helpful Python coding assistant with code execution capabilities.

When the user asks you to perform tasks that require computation or code:
1. Write clear, well-commented Python code
2. Put the code in fenced python code blocks
3. The code is executed automatically and the results are shown
4. Explain what the code does before or after the code block

The execution environment has common packages like numpy, pandas, matplotlib pre-installed.
Keep code concise and focused on the task.`

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Model: ModelConfig{
			Location:        "us-central1",
			Name:            "gemini-2.0-flash",
			Temperature:     0.7,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 2048,
		},
		Executor: ExecutorConfig{
			Sandbox: SandboxConfig{
				Namespace:        "default",
				ClaimTimeout:     30,
				ExecutionTimeout: 60,
			},
			VM: VMConfig{
				Port: 22,
				Zone: "us-central1-a",
			},
		},
		Chat: ChatConfig{
			SystemInstruction: DefaultSystemInstruction,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Listen: "localhost:9090",
			},
		},
	}
}
