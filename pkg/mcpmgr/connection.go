package mcpmgr

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectionStatus represents the lifecycle of a managed connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// Tool is a provider tool stamped with the provider's auto-approve policy.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
	AutoApprove bool   `json:"autoApprove"`
}

// Resource is a readable item advertised by a provider.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	MIMEType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
}

// ResourceTemplate is a parameterized URI advertised by a provider.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ProviderState is a point-in-time copy of a connection for presentation.
type ProviderState struct {
	Name              string             `json:"name"`
	ID                string             `json:"id"`
	Status            ConnectionStatus   `json:"status"`
	Error             string             `json:"error,omitempty"`
	Disabled          bool               `json:"disabled,omitempty"`
	Timeout           time.Duration      `json:"timeout"`
	Transport         TransportKind      `json:"transport,omitempty"`
	Tools             []Tool             `json:"tools,omitempty"`
	Resources         []Resource         `json:"resources,omitempty"`
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates,omitempty"`
}

// Connection is the runtime entry for one provider name. It exclusively owns
// its Handle and Session.
type Connection struct {
	name string
	// id distinguishes successive connections for the same name so that events
	// from a torn-down transport never touch its replacement.
	id string

	mu        sync.RWMutex
	status    ConnectionStatus
	errText   string
	disabled  bool
	applied   AppliedConfig
	tools     []Tool
	resources []Resource
	templates []ResourceTemplate

	handle  Handle
	session Session
	closing bool
}

func newConnection(name string, applied AppliedConfig) *Connection {
	return &Connection{
		name:     name,
		id:       uuid.NewString(),
		status:   StatusConnecting,
		applied:  applied,
		disabled: applied.Valid() && applied.Config.Disabled,
	}
}

// Name returns the provider name.
func (c *Connection) Name() string { return c.name }

// Status returns the current lifecycle status.
func (c *Connection) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Disabled reports whether invocation is rejected.
func (c *Connection) Disabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled
}

// Applied returns the configuration snapshot the connection was built from.
func (c *Connection) Applied() AppliedConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.applied
}

// appendError adds text to the diagnostic log, newline separated.
func (c *Connection) appendError(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendErrorLocked(text)
}

func (c *Connection) appendErrorLocked(text string) {
	if c.errText == "" {
		c.errText = text
		return
	}
	c.errText = c.errText + "\n" + text
}

func (c *Connection) markConnected(handle Handle, session Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = handle
	c.session = session
	c.status = StatusConnected
	c.errText = ""
}

func (c *Connection) markDisconnected(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusDisconnected
	if reason != "" {
		c.appendErrorLocked(reason)
	}
}

// markTransportClosed records an out-of-band close. It reports false when the
// connection is being torn down, in which case nothing changes.
func (c *Connection) markTransportClosed(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.status = StatusDisconnected
	if err != nil {
		c.appendErrorLocked(err.Error())
	}
	return true
}

// markRestarting resets the visible state ahead of a caller-triggered restart.
func (c *Connection) markRestarting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusConnecting
	c.errText = ""
}

func (c *Connection) setDisabled(disabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = disabled
}

// activeSession returns the session of a connected, non-closing connection.
func (c *Connection) activeSession() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closing || c.status != StatusConnected || c.session == nil {
		return nil, false
	}
	return c.session, true
}

// detach marks the connection as closing and hands its resources to the
// caller. Later calls return nil resources.
func (c *Connection) detach() (Handle, Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
	handle, session := c.handle, c.session
	c.handle, c.session = nil, nil
	return handle, session
}

func (c *Connection) setCapabilities(tools []Tool, resources []Resource, templates []ResourceTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
	c.resources = resources
	c.templates = templates
}

func (c *Connection) setTools(tools []Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
}

func (c *Connection) setResources(resources []Resource, templates []ResourceTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = resources
	c.templates = templates
}

// applyPolicy replaces the applied configuration after a policy edit and
// mirrors the disabled flag.
func (c *Connection) applyPolicy(applied AppliedConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = applied
	if applied.Valid() {
		c.disabled = applied.Config.Disabled
	}
}

// snapshot copies the connection state, resolving the timeout against def.
func (c *Connection) snapshot(def time.Duration) ProviderState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state := ProviderState{
		Name:              c.name,
		ID:                c.id,
		Status:            c.status,
		Error:             strings.TrimSpace(c.errText),
		Disabled:          c.disabled,
		Tools:             append([]Tool(nil), c.tools...),
		Resources:         append([]Resource(nil), c.resources...),
		ResourceTemplates: append([]ResourceTemplate(nil), c.templates...),
	}
	if c.applied.Valid() {
		state.Timeout = c.applied.Config.EffectiveTimeout(def)
		state.Transport = TransportOf(c.applied.Config.Transport)
	}
	return state
}

func toolFromSDK(t *mcp.Tool, autoApprove bool) Tool {
	return Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
		AutoApprove: autoApprove,
	}
}

func resourceFromSDK(r *mcp.Resource) Resource {
	return Resource{URI: r.URI, Name: r.Name, MIMEType: r.MIMEType, Description: r.Description}
}

func templateFromSDK(t *mcp.ResourceTemplate) ResourceTemplate {
	return ResourceTemplate{URITemplate: t.URITemplate, Name: t.Name, Description: t.Description, MIMEType: t.MIMEType}
}
