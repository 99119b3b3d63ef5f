// Package mcpmgr keeps a set of Model Context Protocol (MCP) provider
// connections in step with a declarative configuration. Each provider is
// either a local subprocess speaking over stdio or a remote endpoint reached
// over Streamable HTTP with an SSE fallback; both sit behind the
// modelcontextprotocol/go-sdk client.
//
// # Core entry points
//
//   - Manager owns the connection Registry. Reconcile (or Sync, which reads a
//     ProviderStore first) tears down providers that disappeared, creates new
//     ones, and recreates those whose configuration changed. Unchanged
//     providers keep their live connection.
//   - CallTool and ReadResource dispatch to a connected, enabled provider.
//     Tool calls are bounded by the provider's timeout (60s unless
//     configured); a timed out call returns ErrTimeout.
//   - SetDisabled, SetAutoApprove, SetTimeout, and Remove persist policy edits
//     through the ProviderStore and apply them to the live connection.
//   - Providers and EnabledProviders return ProviderState snapshots with the
//     discovered tools, resources, and resource templates.
//
// Every error wraps one of the sentinel kinds (ErrInvalidConfiguration,
// ErrTransport, ErrProtocol, ErrNotFound, ErrDisabledProvider, ErrTimeout), so
// callers branch with errors.Is.
//
// Lifecycle transitions for one provider name are serialized; different names
// proceed independently. Use TransportOf, AsStdio, and AsStreamed to branch on
// a ProviderConfig's transport.
package mcpmgr
