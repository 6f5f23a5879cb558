// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/onixmirror/internal/validation"
)

// ErrMissingCredentials is returned by RequireCredentials.
var ErrMissingCredentials = errors.New("catalog credentials are required (ONIX_API_USER / ONIX_API_PASSWORD or --user / --password)")

// Validate checks struct rules and the cross-field constraints they cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateGroupTags(); err != nil {
		return err
	}
	return c.validateEvents()
}

func (c *Config) validateGroupTags() error {
	seen := make(map[string]struct{}, len(c.Pipeline.GroupTags))
	for _, tag := range c.Pipeline.GroupTags {
		key := strings.ToLower(tag)
		if key == strings.ToLower(c.Store.RootTable) {
			return fmt.Errorf("ONIX_GROUP_TAGS: %q collides with the root table name", tag)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("ONIX_GROUP_TAGS: %q listed twice", tag)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.JetStream && c.Events.NATSURL == "" {
		return fmt.Errorf("NATS_JETSTREAM requires NATS_URL")
	}
	return nil
}

// RequireCredentials reports whether the API user and password are set.
// Commands that talk to the catalog call it; local commands do not.
func (c *Config) RequireCredentials() error {
	if c.API.User == "" || c.API.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}
