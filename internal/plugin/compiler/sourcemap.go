package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// renameSource rewrites the "sources" entry that refers to the plugin
// source so that it reads exactly path. esbuild names sources from plugin
// namespaces "<namespace>:<path>", possibly relative to the output.
func renameSource(raw []byte, namespace, path string) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("source map is not valid JSON")
	}

	sources := gjson.GetBytes(raw, "sources")
	if !sources.IsArray() {
		return nil, fmt.Errorf("source map has no sources")
	}

	prefixed := namespace + ":" + path
	out := raw
	var err error
	sources.ForEach(func(key, value gjson.Result) bool {
		s := value.String()
		if !strings.HasSuffix(s, prefixed) {
			return true
		}
		out, err = sjson.SetBytes(out, "sources."+strconv.FormatInt(key.Int(), 10), path)
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite sources: %w", err)
	}
	return out, nil
}

// mapSources returns the "sources" array of a source map.
func mapSources(raw []byte) []string {
	var out []string
	for _, v := range gjson.GetBytes(raw, "sources").Array() {
		out = append(out, v.String())
	}
	return out
}
