package mcpgateway

import (
	"fmt"
	"net/url"
	"strings"
)

// NamespaceStrategy generates the downstream identifiers for provider tools
// and resources. Implementations must be deterministic and collision-free for
// a given provider/name pair.
type NamespaceStrategy interface {
	ToolName(provider, toolName string) string
	ResourceURI(provider, resourceURI string) string
	ResourceTemplateURI(provider, templateURI string) string
	NativeResourceURI(provider, gatewayURI string) (string, bool)
	NativeResourceTemplateURI(provider, gatewayURI string) (string, bool)
}

// ServerPrefixNamespace prefixes tool names with the provider name, separated
// by Separator (defaults to "__"). Resource URIs are nested under
// mcphub://<provider>/resources/ and mcphub://<provider>/templates/.
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(provider, toolName string) string {
	return provider + s.separator() + toolName
}

func (s ServerPrefixNamespace) ResourceURI(provider, resourceURI string) string {
	return resourcePrefix("resources", provider) + resourceURI
}

func (s ServerPrefixNamespace) ResourceTemplateURI(provider, templateURI string) string {
	return resourcePrefix("templates", provider) + templateURI
}

func (s ServerPrefixNamespace) NativeResourceURI(provider, gatewayURI string) (string, bool) {
	return strings.CutPrefix(gatewayURI, resourcePrefix("resources", provider))
}

func (s ServerPrefixNamespace) NativeResourceTemplateURI(provider, gatewayURI string) (string, bool) {
	return strings.CutPrefix(gatewayURI, resourcePrefix("templates", provider))
}

func resourcePrefix(category, provider string) string {
	return fmt.Sprintf("mcphub://%s/%s/", url.PathEscape(provider), category)
}
