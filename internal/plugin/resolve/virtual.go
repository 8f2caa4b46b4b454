package resolve

import (
	"fmt"
	"sort"
	"strings"
)

// Reserved module names served from memory.
const (
	AppModule        = "runnit/OSApp"
	UIModule         = "react"
	JSXRuntimeModule = "react/jsx-runtime"
)

// BridgeKeyPrefix starts every capability bridge identifier.
const BridgeKeyPrefix = "__runnit_bridge_"

// Bridge members referenced by the virtual bodies. The realm installs an
// object with these fields under the bridge key.
const (
	BridgeApp = "app"
	BridgeUI  = "ui"
	BridgeJSX = "jsx"
)

// UIExports are the named exports of the UI framework binding.
var UIExports = []string{
	"createElement", "Fragment", "createContext",
	"useState", "useEffect", "useMemo", "useCallback", "useRef", "useReducer",
	"useContext",
}

// JSXExports are the named exports of the markup runtime.
var JSXExports = []string{"jsx", "jsxs", "Fragment"}

// AppExports are the named exports of the application module.
var AppExports = []string{"OSApp", "defineApp"}

var reserved = map[string]struct {
	member  string
	exports []string
	dflt    string
}{
	AppModule:        {BridgeApp, AppExports, "OSApp"},
	UIModule:         {BridgeUI, UIExports, ""},
	JSXRuntimeModule: {BridgeJSX, JSXExports, ""},
}

// IsReserved reports whether specifier names a virtual module.
func IsReserved(specifier string) bool {
	_, ok := reserved[specifier]
	return ok
}

// ReservedNames returns the virtual module names in sorted order.
func ReservedNames() []string {
	names := make([]string, 0, len(reserved))
	for name := range reserved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidBridgeKey reports whether key is a usable bridge identifier.
func ValidBridgeKey(key string) bool {
	if !strings.HasPrefix(key, BridgeKeyPrefix) || len(key) == len(BridgeKeyPrefix) {
		return false
	}
	for _, r := range key {
		if r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// VirtualBody returns the module text for a reserved name. The body reads
// the bridge only through bridgeKey and throws at import time when the
// bridge is missing.
func VirtualBody(specifier, bridgeKey string) (string, error) {
	r, ok := reserved[specifier]
	if !ok {
		return "", fmt.Errorf("%q is not a reserved module", specifier)
	}
	if !ValidBridgeKey(bridgeKey) {
		return "", fmt.Errorf("invalid bridge key %q", bridgeKey)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "if (typeof %s === \"undefined\" || !%s.%s) {\n", bridgeKey, bridgeKey, r.member)
	fmt.Fprintf(&b, "  throw new Error(%q);\n", "capability bridge missing for "+specifier)
	b.WriteString("}\n")
	fmt.Fprintf(&b, "const __mod = %s.%s;\n", bridgeKey, r.member)
	for _, name := range r.exports {
		fmt.Fprintf(&b, "export const %s = __mod.%s;\n", name, name)
	}
	if r.dflt != "" {
		fmt.Fprintf(&b, "export default __mod.%s;\n", r.dflt)
	} else {
		b.WriteString("export default __mod;\n")
	}
	return b.String(), nil
}
