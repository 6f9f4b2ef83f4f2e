package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "osp"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage osp configuration.

Running bare 'osp config' is the same as 'osp config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# osp configuration
# See: osp config show (for effective values and sources)

# State/data directory (default: ~/.config/osp)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/osp/osp.db)
# db_path: {{ .DBPath }}

# Directory for temporary clones (default: system temp dir)
# scratch_dir: "{{ .ScratchDir }}"

# Repository URL checks
http:
  # Per-request timeout, covering redirects
  timeout: {{ .HTTPTimeout }}

  # User-Agent sent with every request
  user_agent: "{{ .HTTPUserAgent }}"

  # Redirects followed before giving up
  max_redirects: {{ .HTTPMaxRedirects }}

# Background refresh
refresh:
  # Upper bound for one shallow clone
  clone_timeout: {{ .CloneTimeout }}

  # Pause between two batches
  batch_delay: {{ .BatchDelay }}

  # How often 'osp serve' refreshes the whole catalog
  daily_interval: {{ .DailyInterval }}

# osp serve
serve:
  port: {{ .ServePort }}

# Optional excerpt generation (uses ANTHROPIC_API_KEY when api_key is empty)
anthropic:
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir         string
	DBPath           string
	ScratchDir       string
	HTTPTimeout      time.Duration
	HTTPUserAgent    string
	HTTPMaxRedirects int
	CloneTimeout     time.Duration
	BatchDelay       time.Duration
	DailyInterval    time.Duration
	ServePort        int
	AnthropicModel   string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:         viper.GetString("state_dir"),
		DBPath:           viper.GetString("db_path"),
		ScratchDir:       viper.GetString("scratch_dir"),
		HTTPTimeout:      viper.GetDuration("http.timeout"),
		HTTPUserAgent:    viper.GetString("http.user_agent"),
		HTTPMaxRedirects: viper.GetInt("http.max_redirects"),
		CloneTimeout:     viper.GetDuration("refresh.clone_timeout"),
		BatchDelay:       viper.GetDuration("refresh.batch_delay"),
		DailyInterval:    viper.GetDuration("refresh.daily_interval"),
		ServePort:        viper.GetInt("serve.port"),
		AnthropicModel:   viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "OSP_STATE_DIR"},
	{Key: "db_path", EnvVar: "OSP_DB_PATH"},
	{Key: "scratch_dir", EnvVar: "OSP_SCRATCH_DIR"},
	{Key: "http.timeout", EnvVar: "OSP_HTTP_TIMEOUT"},
	{Key: "http.user_agent", EnvVar: "OSP_HTTP_USER_AGENT"},
	{Key: "http.max_redirects", EnvVar: "OSP_HTTP_MAX_REDIRECTS"},
	{Key: "refresh.clone_timeout", EnvVar: "OSP_REFRESH_CLONE_TIMEOUT"},
	{Key: "refresh.batch_delay", EnvVar: "OSP_REFRESH_BATCH_DELAY"},
	{Key: "refresh.daily_interval", EnvVar: "OSP_REFRESH_DAILY_INTERVAL"},
	{Key: "serve.port", EnvVar: "OSP_SERVE_PORT"},
	{Key: "anthropic.api_key", EnvVar: "OSP_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "OSP_ANTHROPIC_MODEL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "anthropic.api_key" && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'osp config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
