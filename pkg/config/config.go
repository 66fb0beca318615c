package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".dlv-attach"
	configFile string = "config.yml"
)

// Defaults used when the configuration file does not set a value.
const (
	DefaultPrompt          = "(Pdb) "
	DefaultPollInterval    = 100
	DefaultMaxFramePayload = 1 << 20
	DefaultHost            = "localhost"
	DefaultListLines       = 11
	DefaultSourceCacheSize = 32
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases, merged into the debugger engine's command table.
	Aliases map[string][]string `yaml:"aliases"`

	// Prompt printed by the debugger engine before every command.
	Prompt string `yaml:"prompt,omitempty"`

	// PollInterval is the number of trace steps between two non-blocking
	// accepts of the polling backend.
	PollInterval int `yaml:"poll-interval,omitempty"`

	// MaxFramePayload is the largest payload a channel accepts in a single
	// frame. Larger frames close the session.
	MaxFramePayload int `yaml:"max-frame-payload,omitempty"`

	// Backend selects the activation backend of the demo target: "default",
	// "signal" or "poll".
	Backend string `yaml:"backend,omitempty"`

	// Host is the loopback host name the client connects to and the target
	// listens on.
	Host string `yaml:"host,omitempty"`

	// ListLines is the number of source lines printed by the list command.
	ListLines int `yaml:"list-lines,omitempty"`

	// SourceCacheSize is the number of source files kept in memory by the
	// list command.
	SourceCacheSize int `yaml:"source-cache-size,omitempty"`
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxFramePayload <= 0 {
		c.MaxFramePayload = DefaultMaxFramePayload
	}
	if c.Backend == "" {
		c.Backend = "default"
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.ListLines <= 0 {
		c.ListLines = DefaultListLines
	}
	if c.SourceCacheSize <= 0 {
		c.SourceCacheSize = DefaultSourceCacheSize
	}
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// Errors are reported on stdout and an all-defaults Config is returned.
func LoadConfig() *Config {
	c := loadConfig()
	c.ApplyDefaults()
	return c
}

func loadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	c, err := Read(f)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}
	return c
}

// Read decodes a configuration from r. Unset fields keep their zero value.
func Read(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for dlv-attach.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given debugger command.
aliases:
  # command: ["alias1", "alias2"]

# Prompt printed by the debugger before every command.
# prompt: "(Pdb) "

# Number of trace steps between two checks for a pending connection when the
# polling backend is used.
# poll-interval: 100

# Largest payload accepted in a single frame, in bytes.
# max-frame-payload: 1048576

# Activation backend used by 'dlv-attach demo': default, signal or poll.
# backend: default

# Host the client connects to.
# host: localhost

# Number of source lines printed by the list command.
# list-lines: 11

# Number of source files kept in memory by the list command.
# source-cache-size: 32
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if home := os.Getenv("DLV_ATTACH_HOME"); home != "" {
		return path.Join(home, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
