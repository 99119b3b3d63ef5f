// Package settings persists provider configuration in a JSON document of the
// form {"mcpServers": {"<name>": {...}}} and watches it for edits.
package settings
