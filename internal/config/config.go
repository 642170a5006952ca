package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration
type Config struct {
	DataDir   string        `yaml:"data_dir"`
	Database  string        `yaml:"database"`
	SaveDelay time.Duration `yaml:"save_delay"`
	AdminPass string        `yaml:"admin_pass"`
	Bot       Bot           `yaml:"bot"`
	Networks  []Network     `yaml:"networks"`
}

// Bot is the identity the service bot uses on every network
type Bot struct {
	Nick      string `yaml:"nick"`
	Alternate string `yaml:"alternate"`
	Username  string `yaml:"username"`
	IRCName   string `yaml:"irc_name"`
	Usermodes string `yaml:"usermodes"`
}

// Network is one IRC network to link
type Network struct {
	Name         string `yaml:"name"`
	Server       string `yaml:"server"`
	Port         int    `yaml:"port"`
	TLS          bool   `yaml:"tls"`
	ServerPass   string `yaml:"server_pass"`
	NickPass     string `yaml:"nick_pass"`
	OperNick     string `yaml:"oper_nick"`
	OperPass     string `yaml:"oper_pass"`
	SASLLogin    string `yaml:"sasl_login"`
	SASLPassword string `yaml:"sasl_password"`

	// Nick overrides the bot nick on this network
	Nick string `yaml:"nick"`
}

// Address returns host:port
func (n Network) Address() string {
	return fmt.Sprintf("%s:%d", n.Server, n.Port)
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, "automode.db")
	}
	if c.SaveDelay <= 0 {
		c.SaveDelay = 300 * time.Second
	}
	if c.Bot.Nick == "" {
		c.Bot.Nick = "automode"
	}
	if c.Bot.Alternate == "" {
		c.Bot.Alternate = c.Bot.Nick + "_"
	}
	if c.Bot.Username == "" {
		c.Bot.Username = c.Bot.Nick
	}
	if c.Bot.IRCName == "" {
		c.Bot.IRCName = "Automode service"
	}
	if c.Bot.Usermodes == "" {
		c.Bot.Usermodes = "+B"
	}
	for i := range c.Networks {
		n := &c.Networks[i]
		if n.Port == 0 {
			if n.TLS {
				n.Port = 6697
			} else {
				n.Port = 6667
			}
		}
		if n.Nick == "" {
			n.Nick = c.Bot.Nick
		}
	}
}

// Validate rejects configurations the daemon cannot start with
func (c *Config) Validate() error {
	var errs []error
	if len(c.Networks) == 0 {
		errs = append(errs, errors.New("no networks configured"))
	}
	seen := make(map[string]bool)
	for i, n := range c.Networks {
		switch {
		case n.Name == "":
			errs = append(errs, fmt.Errorf("network %d: missing name", i+1))
		case strings.ContainsAny(n.Name, "#&+! "):
			errs = append(errs, fmt.Errorf("network %q: name may not contain channel prefixes or spaces", n.Name))
		case seen[strings.ToLower(n.Name)]:
			errs = append(errs, fmt.Errorf("network %q: duplicate name", n.Name))
		}
		seen[strings.ToLower(n.Name)] = true
		if n.Server == "" {
			errs = append(errs, fmt.Errorf("network %q: missing server", n.Name))
		}
		if (n.SASLLogin == "") != (n.SASLPassword == "") {
			errs = append(errs, fmt.Errorf("network %q: sasl_login and sasl_password go together", n.Name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
