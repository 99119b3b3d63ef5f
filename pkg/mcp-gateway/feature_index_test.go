package mcpgateway

import (
	"testing"

	"github.com/vikashloomba/mcp-hub-go/pkg/mcpmgr"
)

func TestFeatureIndexUpdateTools(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	tools := []mcpmgr.Tool{{Name: "echo", AutoApprove: true}}
	removed, added := fi.UpdateTools("alpha", tools)
	if len(removed) != 0 {
		t.Fatalf("unexpected removals: %v", removed)
	}
	if len(added) != 1 {
		t.Fatalf("expected single registration, got %d", len(added))
	}
	if added[0].Name != "alpha__echo" {
		t.Fatalf("unexpected gateway name %q", added[0].Name)
	}
	target, ok := fi.ToolTarget(added[0].Name)
	if !ok {
		t.Fatalf("tool target missing")
	}
	if target.Provider != "alpha" || target.NativeName != "echo" || target.GatewayName != "alpha__echo" {
		t.Fatalf("unexpected target %+v", target)
	}
	meta := added[0].Meta
	if meta[metaKeyProvider] != "alpha" || meta[metaKeyAutoApprove] != true {
		t.Fatalf("meta missing provider or auto-approve: %+v", meta)
	}
	schema, ok := added[0].InputSchema.(map[string]any)
	if !ok || schema["type"] != "object" {
		t.Fatalf("expected object schema placeholder, got %#v", added[0].InputSchema)
	}

	removed, added = fi.UpdateTools("alpha", nil)
	if len(removed) != 1 || removed[0] != "alpha__echo" || len(added) != 0 {
		t.Fatalf("expected echo removal, got removed=%v added=%d", removed, len(added))
	}
	if _, ok := fi.ToolTarget("alpha__echo"); ok {
		t.Fatalf("tool target should be gone")
	}
	if got := fi.Providers(); len(got) != 0 {
		t.Fatalf("expected no providers, got %v", got)
	}
}

func TestFeatureIndexResourceRoundTrip(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	resources := []mcpmgr.Resource{{URI: "file://notes", Name: "notes"}}
	_, added := fi.UpdateResources("bravo", resources)
	if len(added) != 1 {
		t.Fatalf("expected 1 resource registration")
	}
	gateway := added[0].URI
	target, ok := fi.ResourceTarget(gateway)
	if !ok {
		t.Fatalf("resource target missing")
	}
	if target.Provider != "bravo" || target.NativeURI != "file://notes" {
		t.Fatalf("unexpected target %+v", target)
	}
	if got := fi.Providers(); len(got) != 1 || got[0] != "bravo" {
		t.Fatalf("unexpected providers %v", got)
	}

	fi.UpdateResources("bravo", nil)
	if _, ok := fi.ResourceTarget(gateway); ok {
		t.Fatalf("resource target should be gone")
	}
}

func TestFeatureIndexTemplateTarget(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	fi.UpdateResourceTemplates("alpha", []mcpmgr.ResourceTemplate{{URITemplate: "file:///{path}", Name: "files"}})
	fi.UpdateResourceTemplates("alphabet", []mcpmgr.ResourceTemplate{{URITemplate: "db://{table}", Name: "tables"}})

	target, native, ok := fi.TemplateTarget("mcphub://alpha/templates/file:///etc/hosts")
	if !ok {
		t.Fatalf("template target missing")
	}
	if target.Provider != "alpha" || native != "file:///etc/hosts" {
		t.Fatalf("unexpected resolution %+v %q", target, native)
	}
	target, native, ok = fi.TemplateTarget("mcphub://alphabet/templates/db://users")
	if !ok || target.Provider != "alphabet" || native != "db://users" {
		t.Fatalf("unexpected resolution %+v %q %v", target, native, ok)
	}

	fi.UpdateResourceTemplates("alpha", nil)
	if _, _, ok := fi.TemplateTarget("mcphub://alpha/templates/file:///etc/hosts"); ok {
		t.Fatalf("template target should be gone")
	}
}
