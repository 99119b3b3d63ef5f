// Package mcpgateway mirrors the tools, resources, and resource templates of
// every enabled, connected mcpmgr provider onto a single Streamable MCP
// server. Downstream clients connect to one endpoint; calls are routed back
// through the Manager so the disabled guard and per-provider timeouts apply.
//
// Mirrored features are namespaced by provider. With the default
// ServerPrefixNamespace a tool "search" of provider "docs" is exposed as
// "docs__search" and a resource "file:///a" as "mcphub://docs/resources/file:///a".
package mcpgateway
