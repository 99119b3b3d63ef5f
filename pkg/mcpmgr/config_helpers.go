package mcpmgr

// Helpers for narrowing a TransportConfig without a type switch at every call
// site.

// TransportOf returns the transport kind of cfg, or "" for nil.
func TransportOf(cfg TransportConfig) TransportKind {
	if cfg == nil {
		return ""
	}
	return cfg.kind()
}

// IsStdio reports whether cfg is a StdioTransport.
func IsStdio(cfg TransportConfig) bool {
	_, ok := cfg.(StdioTransport)
	return ok
}

// IsStreamed reports whether cfg is a StreamedTransport.
func IsStreamed(cfg TransportConfig) bool {
	_, ok := cfg.(StreamedTransport)
	return ok
}

// AsStdio narrows cfg to StdioTransport.
func AsStdio(cfg TransportConfig) (StdioTransport, bool) {
	c, ok := cfg.(StdioTransport)
	return c, ok
}

// AsStreamed narrows cfg to StreamedTransport.
func AsStreamed(cfg TransportConfig) (StreamedTransport, bool) {
	c, ok := cfg.(StreamedTransport)
	return c, ok
}
