// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the host configuration, loaded from a single YAML file.
// There is no automatic discovery and environment variables never
// override file values; the file is the whole truth.
type Config struct {
	// Homeserver locates the Matrix server and the account the host
	// acts as.
	Homeserver HomeserverConfig `yaml:"homeserver"`

	// Room is the room widget sessions run against: a room ID
	// ("!abc:server") or an alias ("#widgets:server") resolved at
	// startup.
	Room string `yaml:"room"`

	// Widget selects the widget to serve.
	Widget WidgetConfig `yaml:"widget"`

	// Listen configures the WebSocket listener.
	Listen ListenConfig `yaml:"listen"`

	// Capabilities is the host's grant policy.
	Capabilities CapabilityConfig `yaml:"capabilities"`
}

// HomeserverConfig identifies the server and credentials. Exactly one of
// the two credential forms must be set: a resumable access token with
// its user ID, or a username and password for a fresh login.
type HomeserverConfig struct {
	URL string `yaml:"url"`

	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WidgetConfig selects the widget. Either URL (with ID) configures it
// directly, or Discover reads the room's widget state events and picks
// the one named by ID, or the only one present when ID is empty.
// InitOnLoad applies to directly configured widgets; discovered widgets
// always wait for content_loaded, as room widgets do.
type WidgetConfig struct {
	ID         string `yaml:"id"`
	URL        string `yaml:"url"`
	InitOnLoad bool   `yaml:"init_on_load"`
	Discover   bool   `yaml:"discover"`
}

// ListenConfig configures the WebSocket listener.
type ListenConfig struct {
	// Addr is the TCP address to bind. Defaults to 127.0.0.1:8794.
	Addr string `yaml:"addr"`

	// Path is the URL path widgets connect on. Defaults to /widget.
	Path string `yaml:"path"`

	// AllowedOrigins are Origin header patterns accepted during the
	// handshake. Empty allows only same-host origins.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CapabilityConfig is the grant policy for capability negotiation.
type CapabilityConfig struct {
	// ApproveAll grants every requested capability. Intended for
	// development shells; production hosts should list grants in Allow.
	ApproveAll bool `yaml:"approve_all"`

	// Allow is the set of capability strings the host will grant, e.g.
	// "org.matrix.msc2762.receive.event:m.room.message". Requested
	// capabilities outside this set are silently withheld.
	Allow []string `yaml:"allow"`
}

// LoadConfig reads and validates the host configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Addr == "" {
		c.Listen.Addr = "127.0.0.1:8794"
	}
	if c.Listen.Path == "" {
		c.Listen.Path = "/widget"
	}
}

func (c *Config) validate() error {
	if c.Homeserver.URL == "" {
		return fmt.Errorf("homeserver.url is required")
	}
	hasToken := c.Homeserver.AccessToken != ""
	hasPassword := c.Homeserver.Username != "" || c.Homeserver.Password != ""
	switch {
	case hasToken && hasPassword:
		return fmt.Errorf("set either homeserver.access_token or homeserver.username/password, not both")
	case hasToken && c.Homeserver.UserID == "":
		return fmt.Errorf("homeserver.user_id is required with homeserver.access_token")
	case !hasToken && (c.Homeserver.Username == "" || c.Homeserver.Password == ""):
		return fmt.Errorf("credentials are required: homeserver.access_token or homeserver.username/password")
	}
	if c.Room == "" {
		return fmt.Errorf("room is required")
	}
	if c.Widget.Discover {
		if c.Widget.URL != "" {
			return fmt.Errorf("widget.url and widget.discover are mutually exclusive")
		}
	} else {
		if c.Widget.URL == "" {
			return fmt.Errorf("widget.url is required unless widget.discover is set")
		}
		if c.Widget.ID == "" {
			return fmt.Errorf("widget.id is required with widget.url")
		}
	}
	if !c.Capabilities.ApproveAll && len(c.Capabilities.Allow) == 0 {
		return fmt.Errorf("capability policy is empty: set capabilities.approve_all or capabilities.allow")
	}
	return nil
}
