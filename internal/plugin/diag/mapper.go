// Package diag maps stack traces from generated plugin code back to the
// plugin's original source positions.
package diag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sourcemap/sourcemap"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the number of registered source maps.
const DefaultMaxEntries = 256

// GeneratedPrefix starts the file name generated code is evaluated under.
const GeneratedPrefix = "bundle:"

// GeneratedName returns the file name generated code for path is evaluated
// under. It never equals a virtual path, so mapped output is never mapped
// again.
func GeneratedName(path string) string {
	return GeneratedPrefix + path
}

// Mapper holds one source map per virtual path.
type Mapper struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *sourcemap.Consumer]
}

// NewMapper creates a mapper holding at most max maps. The least recently
// used map is dropped when the bound is reached.
func NewMapper(max int) (*Mapper, error) {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	cache, err := lru.New[string, *sourcemap.Consumer](max)
	if err != nil {
		return nil, err
	}
	return &Mapper{cache: cache}, nil
}

// Register parses raw and stores it for path, replacing any previous map.
func (m *Mapper) Register(path string, raw []byte) error {
	consumer, err := sourcemap.Parse("", raw)
	if err != nil {
		return fmt.Errorf("parse source map for %s: %w", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(path, consumer)
	return nil
}

// Evict drops the map for path.
func (m *Mapper) Evict(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(path)
}

// Has reports whether a map is registered for path.
func (m *Mapper) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Contains(path)
}

// Len returns the number of registered maps.
func (m *Mapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// Paths returns the registered virtual paths, oldest first.
func (m *Mapper) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Keys()
}

// frameRe matches "at file:line:col" and "at fn (file:line:col".
var frameRe = regexp.MustCompile(`at (?:[^\s()]+(?: [^\s()]+)* \()?([^\s()]+):(\d+):(\d+)`)

// Translate rewrites every stack location that points into registered
// generated code to "path:line:col" in the original source. Other text is
// left as is. Translate is idempotent.
func (m *Mapper) Translate(stack string) string {
	if !strings.Contains(stack, GeneratedPrefix) {
		return stack
	}

	return replaceSubmatches(frameRe, stack, func(file string, line, col int) (string, bool) {
		path, ok := strings.CutPrefix(file, GeneratedPrefix)
		if !ok {
			return "", false
		}
		m.mu.Lock()
		consumer, ok := m.cache.Get(path)
		m.mu.Unlock()
		if !ok {
			return "", false
		}

		// Stack columns are 1-based, source map columns 0-based.
		_, _, srcLine, srcCol, ok := consumer.Source(line, col-1)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s:%d:%d", path, srcLine, srcCol+1), true
	})
}

// replaceSubmatches replaces the "file:line:col" group of every match for
// which fn returns true.
func replaceSubmatches(re *regexp.Regexp, s string, fn func(file string, line, col int) (string, bool)) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, mt := range matches {
		fileStart, fileEnd := mt[2], mt[3]
		line, err1 := strconv.Atoi(s[mt[4]:mt[5]])
		col, err2 := strconv.Atoi(s[mt[6]:mt[7]])
		if err1 != nil || err2 != nil {
			continue
		}
		repl, ok := fn(s[fileStart:fileEnd], line, col)
		if !ok {
			continue
		}
		b.WriteString(s[last:fileStart])
		b.WriteString(repl)
		last = mt[7]
	}
	b.WriteString(s[last:])
	return b.String()
}
