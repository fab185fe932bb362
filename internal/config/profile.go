package config

import "fmt"

// ChannelKind enumerates the alert channel kinds spec.md §4.9 names.
type ChannelKind string

const (
	ChannelMattermost ChannelKind = "mattermost"
	ChannelSlack      ChannelKind = "slack"
	ChannelTelegram   ChannelKind = "telegram"
	ChannelWebhook    ChannelKind = "webhook"
	ChannelEmail      ChannelKind = "email"
)

func (c ChannelKind) valid() bool {
	switch c {
	case ChannelMattermost, ChannelSlack, ChannelTelegram, ChannelWebhook, ChannelEmail:
		return true
	default:
		return false
	}
}

// AlertChannelConfig is one entry of `alert_channels.<name>` in a profile
// declaration (§6). Fields beyond Type are channel-specific and kept as a
// free-form map — the concrete webhook/SMTP clients are narrow adapters
// (internal/alert/channels), not a config schema concern.
type AlertChannelConfig struct {
	Name   string
	Type   ChannelKind    `yaml:"type"`
	Fields map[string]any `yaml:",inline"`
}

// Validate checks the channel declares a recognized kind.
func (c AlertChannelConfig) Validate() error {
	if !c.Type.valid() {
		return fmt.Errorf("alert_channels.%s: invalid channel type %q", c.Name, c.Type)
	}
	return nil
}

// ProfileConfig is one entry of `profiles.<name>` in a profile
// declaration: the analytical-database connection parameters plus the
// internal/data namespace split (§6). Concrete driver selection lives in
// internal/dbadapter; Type here is informational until a driver for it is
// wired (only "duckdb" has one in this repository — see DESIGN.md).
type ProfileConfig struct {
	Name             string
	Type             string `yaml:"type"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	Path             string `yaml:"path"` // file-based backends (e.g. duckdb)
	InternalDatabase string `yaml:"internal_database"`
	InternalSchema   string `yaml:"internal_schema"`
	DataDatabase     string `yaml:"data_database"`
	DataSchema       string `yaml:"data_schema"`
}

// Validate checks the profile's required fields and port range.
func (p ProfileConfig) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("profile %q: type is required", p.Name)
	}
	if p.Port != 0 && (p.Port < 1 || p.Port > 65535) {
		return fmt.Errorf("profile %q: port must be between 1 and 65535, got %d", p.Name, p.Port)
	}
	if p.InternalDatabase == "" && p.InternalSchema == "" {
		return fmt.Errorf("profile %q: internal_database or internal_schema must be set", p.Name)
	}
	return nil
}

// GetInternalLocation returns the namespace the four internal tables live
// in, preferring a database name over a schema name.
func (p ProfileConfig) GetInternalLocation() (string, error) {
	if p.InternalDatabase != "" {
		return p.InternalDatabase, nil
	}
	if p.InternalSchema != "" {
		return p.InternalSchema, nil
	}
	return "", fmt.Errorf("profile %q: internal_database must be set", p.Name)
}

// GetDataLocation returns the namespace the user's own analytical tables
// live in (the source the metric loader queries).
func (p ProfileConfig) GetDataLocation() (string, error) {
	if p.DataDatabase != "" {
		return p.DataDatabase, nil
	}
	if p.DataSchema != "" {
		return p.DataSchema, nil
	}
	return "", fmt.Errorf("profile %q: data_database must be set", p.Name)
}

// ProfilesConfig is the top-level shape of a profile declaration file.
type ProfilesConfig struct {
	DefaultProfile string                         `yaml:"default_profile"`
	Profiles       map[string]ProfileConfig       `yaml:"profiles"`
	AlertChannels  map[string]AlertChannelConfig  `yaml:"alert_channels"`
}

// Validate validates every declared profile and alert channel, and that
// DefaultProfile (if set) names a declared profile.
func (p ProfilesConfig) Validate() error {
	if err := p.validate(); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func (p ProfilesConfig) validate() error {
	if len(p.Profiles) == 0 {
		return fmt.Errorf("profiles: at least one profile must be declared")
	}
	for name, prof := range p.Profiles {
		prof.Name = name
		if err := prof.Validate(); err != nil {
			return err
		}
	}
	if p.DefaultProfile != "" {
		if _, ok := p.Profiles[p.DefaultProfile]; !ok {
			return fmt.Errorf("profiles: default_profile %q is not declared", p.DefaultProfile)
		}
	}
	for name, ch := range p.AlertChannels {
		ch.Name = name
		if err := ch.Validate(); err != nil {
			return err
		}
	}
	return nil
}
