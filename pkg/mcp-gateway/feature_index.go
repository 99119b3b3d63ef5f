package mcpgateway

import (
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-hub-go/pkg/mcpmgr"
)

const (
	metaKeyProvider    = "mcphub.provider"
	metaKeyNativeName  = "mcphub.native_name"
	metaKeyNativeURI   = "mcphub.native_uri"
	metaKeyAutoApprove = "mcphub.auto_approve"
)

// featureIndex tracks which downstream names belong to which provider so a
// provider's features can be replaced or dropped as a unit.
type featureIndex struct {
	ns NamespaceStrategy

	mu sync.RWMutex

	tools             map[string]toolTarget
	providerTools     map[string][]string
	resources         map[string]resourceTarget
	providerResources map[string][]string
	templates         map[string]resourceTemplateTarget
	providerTemplates map[string][]string
}

type toolTarget struct {
	GatewayName string
	Provider    string
	NativeName  string
}

type resourceTarget struct {
	GatewayURI string
	Provider   string
	NativeURI  string
}

type resourceTemplateTarget struct {
	GatewayURI string
	Provider   string
	NativeURI  string
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:                ns,
		tools:             make(map[string]toolTarget),
		providerTools:     make(map[string][]string),
		resources:         make(map[string]resourceTarget),
		providerResources: make(map[string][]string),
		templates:         make(map[string]resourceTemplateTarget),
		providerTemplates: make(map[string][]string),
	}
}

// Providers returns every provider with at least one mirrored feature.
func (f *featureIndex) Providers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, m := range []map[string][]string{f.providerTools, f.providerResources, f.providerTemplates} {
		for name := range m {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// UpdateTools replaces the tools of provider and returns the downstream names
// to remove and the tools to add.
func (f *featureIndex) UpdateTools(provider string, upstream []mcpmgr.Tool) (removed []string, added []*mcp.Tool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeToolsLocked(provider)
	added = make([]*mcp.Tool, 0, len(upstream))
	names := make([]string, 0, len(upstream))
	for _, tool := range upstream {
		gatewayName := f.ns.ToolName(provider, tool.Name)
		target := toolTarget{GatewayName: gatewayName, Provider: provider, NativeName: tool.Name}
		f.tools[gatewayName] = target
		added = append(added, gatewayTool(tool, gatewayName, provider))
		names = append(names, gatewayName)
	}
	if len(names) > 0 {
		f.providerTools[provider] = names
	}
	return removed, added
}

func (f *featureIndex) UpdateResources(provider string, upstream []mcpmgr.Resource) (removed []string, added []*mcp.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeResourcesLocked(provider)
	added = make([]*mcp.Resource, 0, len(upstream))
	var names []string
	for _, resource := range upstream {
		gatewayURI := f.ns.ResourceURI(provider, resource.URI)
		target := resourceTarget{GatewayURI: gatewayURI, Provider: provider, NativeURI: resource.URI}
		f.resources[gatewayURI] = target
		added = append(added, gatewayResource(resource, gatewayURI, provider))
		names = append(names, gatewayURI)
	}
	if len(names) > 0 {
		f.providerResources[provider] = names
	}
	return removed, added
}

func (f *featureIndex) UpdateResourceTemplates(provider string, upstream []mcpmgr.ResourceTemplate) (removed []string, added []*mcp.ResourceTemplate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeTemplatesLocked(provider)
	added = make([]*mcp.ResourceTemplate, 0, len(upstream))
	var names []string
	for _, tpl := range upstream {
		gatewayURI := f.ns.ResourceTemplateURI(provider, tpl.URITemplate)
		target := resourceTemplateTarget{GatewayURI: gatewayURI, Provider: provider, NativeURI: tpl.URITemplate}
		f.templates[gatewayURI] = target
		added = append(added, gatewayTemplate(tpl, gatewayURI, provider))
		names = append(names, gatewayURI)
	}
	if len(names) > 0 {
		f.providerTemplates[provider] = names
	}
	return removed, added
}

func (f *featureIndex) ToolTarget(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[name]
	return t, ok
}

func (f *featureIndex) ResourceTarget(uri string) (resourceTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.resources[uri]
	return r, ok
}

// TemplateTarget resolves an expanded gateway URI to the provider template it
// was matched against and the native URI to read.
func (f *featureIndex) TemplateTarget(uri string) (target resourceTemplateTarget, nativeURI string, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, t := range f.templates {
		if native, ok := f.ns.NativeResourceTemplateURI(t.Provider, uri); ok {
			return t, native, true
		}
	}
	return resourceTemplateTarget{}, "", false
}

func (f *featureIndex) removeToolsLocked(provider string) []string {
	names := f.providerTools[provider]
	for _, name := range names {
		delete(f.tools, name)
	}
	delete(f.providerTools, provider)
	return names
}

func (f *featureIndex) removeResourcesLocked(provider string) []string {
	names := f.providerResources[provider]
	for _, name := range names {
		delete(f.resources, name)
	}
	delete(f.providerResources, provider)
	return names
}

func (f *featureIndex) removeTemplatesLocked(provider string) []string {
	names := f.providerTemplates[provider]
	for _, name := range names {
		delete(f.templates, name)
	}
	delete(f.providerTemplates, provider)
	return names
}

func gatewayTool(tool mcpmgr.Tool, gatewayName, provider string) *mcp.Tool {
	return &mcp.Tool{
		Name:        gatewayName,
		Description: tool.Description,
		InputSchema: objectSchema(tool.InputSchema),
		Meta: mcp.Meta{
			metaKeyProvider:    provider,
			metaKeyNativeName:  tool.Name,
			metaKeyAutoApprove: tool.AutoApprove,
		},
	}
}

// objectSchema returns schema when it describes an object, and an empty
// object schema otherwise. The server side refuses tools without one.
func objectSchema(schema any) any {
	if m, ok := schema.(map[string]any); ok && m["type"] == "object" {
		return m
	}
	return map[string]any{"type": "object"}
}

func gatewayResource(resource mcpmgr.Resource, gatewayURI, provider string) *mcp.Resource {
	return &mcp.Resource{
		URI:         gatewayURI,
		Name:        resource.Name,
		Description: resource.Description,
		MIMEType:    resource.MIMEType,
		Meta: mcp.Meta{
			metaKeyProvider:  provider,
			metaKeyNativeURI: resource.URI,
		},
	}
}

func gatewayTemplate(tpl mcpmgr.ResourceTemplate, gatewayURI, provider string) *mcp.ResourceTemplate {
	return &mcp.ResourceTemplate{
		URITemplate: gatewayURI,
		Name:        tpl.Name,
		Description: tpl.Description,
		MIMEType:    tpl.MIMEType,
		Meta: mcp.Meta{
			metaKeyProvider:  provider,
			metaKeyNativeURI: tpl.URITemplate,
		},
	}
}
