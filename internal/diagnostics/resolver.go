// internal/diagnostics/resolver.go
package diagnostics

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/a11y-bridge/api/schemas"
)

// Location is where a node was found. Range is nil when only the resource is known.
type Location struct {
	Resource string
	Range    *schemas.Range
}

// Resolver locates the source of a scanned node. resourceHint is the URL
// that was scanned.
type Resolver interface {
	Resolve(resourceHint string, node schemas.NodeDescriptor) (Location, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(resourceHint string, node schemas.NodeDescriptor) (Location, bool)

func (f ResolverFunc) Resolve(resourceHint string, node schemas.NodeDescriptor) (Location, bool) {
	return f(resourceHint, node)
}

// FixedResolver puts every node in resource without a range.
func FixedResolver(resource string) Resolver {
	return ResolverFunc(func(string, schemas.NodeDescriptor) (Location, bool) {
		return Location{Resource: resource}, true
	})
}

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
}

// SourceResolver searches workspace files for a node's markup. The file
// list and contents are loaded once; call Refresh to pick up edits.
type SourceResolver struct {
	root    string
	include []string
	logger  *zap.Logger

	mu       sync.Mutex
	loaded   bool
	files    []string
	contents map[string][]byte
}

// NewSourceResolver resolves against files under root whose base name
// matches one of the include globs. A leading "**/" on a glob is ignored.
func NewSourceResolver(root string, include []string, logger *zap.Logger) (*SourceResolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	patterns := make([]string, 0, len(include))
	for _, pattern := range include {
		pattern = strings.TrimPrefix(pattern, "**/")
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		patterns = append(patterns, pattern)
	}
	return &SourceResolver{
		root:     abs,
		include:  patterns,
		logger:   logger.Named("resolver"),
		contents: make(map[string][]byte),
	}, nil
}

// Root is the absolute workspace root.
func (r *SourceResolver) Root() string { return r.root }

// Refresh drops cached files so the next Resolve rereads the workspace.
func (r *SourceResolver) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	r.files = nil
	r.contents = make(map[string][]byte)
}

func (r *SourceResolver) Resolve(resourceHint string, node schemas.NodeDescriptor) (Location, bool) {
	if strings.TrimSpace(node.HTML) == "" {
		return Location{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		r.logger.Warn("Failed to index workspace.", zap.Error(err))
		return Location{}, false
	}

	candidates := rankCandidates(r.files, resourceHint)
	for _, file := range candidates {
		if loc, ok := r.match(file, node.HTML, exactSnippet); ok {
			return loc, true
		}
	}
	for _, file := range candidates {
		if loc, ok := r.match(file, node.HTML, openingTag); ok {
			return loc, true
		}
	}
	return Location{}, false
}

func (r *SourceResolver) load() error {
	if r.loaded {
		return nil
	}
	var files []string
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != r.root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		for _, pattern := range r.include {
			if ok, _ := filepath.Match(pattern, d.Name()); ok {
				files = append(files, p)
				break
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)
	r.files = files
	r.loaded = true
	r.logger.Debug("Indexed workspace.", zap.Int("files", len(files)), zap.String("root", r.root))
	return nil
}

func (r *SourceResolver) read(file string) ([]byte, error) {
	if data, ok := r.contents[file]; ok {
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	r.contents[file] = data
	return data, nil
}

type matcher func(content []byte, snippet string) (start, end int, ok bool)

func (r *SourceResolver) match(file, snippet string, m matcher) (Location, bool) {
	content, err := r.read(file)
	if err != nil {
		r.logger.Debug("Skipping unreadable file.", zap.String("file", file), zap.Error(err))
		return Location{}, false
	}
	start, end, ok := m(content, snippet)
	if !ok {
		return Location{}, false
	}
	rng := schemas.Range{Start: position(content, start), End: position(content, end)}
	return Location{Resource: file, Range: &rng}, true
}

func exactSnippet(content []byte, snippet string) (int, int, bool) {
	i := bytes.Index(content, []byte(snippet))
	if i < 0 {
		return 0, 0, false
	}
	return i, i + len(snippet), true
}

// openingTag rebuilds the node's first start tag. The raw tag is tried
// verbatim, then a pattern on tag name plus id, since engines reserialize
// attributes and the source rarely matches byte for byte.
func openingTag(content []byte, snippet string) (int, int, bool) {
	z := html.NewTokenizer(strings.NewReader(snippet))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return 0, 0, false
		case html.StartTagToken, html.SelfClosingTagToken:
			raw := string(z.Raw())
			tok := z.Token()
			if i := bytes.Index(content, []byte(raw)); i >= 0 {
				return i, i + len(raw), true
			}
			id := attr(tok, "id")
			if id == "" {
				return 0, 0, false
			}
			pattern := fmt.Sprintf(`(?i)<%s\b[^>]*\bid\s*=\s*["']%s["'][^>]*>`,
				regexp.QuoteMeta(tok.Data), regexp.QuoteMeta(id))
			loc := regexp.MustCompile(pattern).FindIndex(content)
			if loc == nil {
				return 0, 0, false
			}
			return loc[0], loc[1], true
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// position converts a byte offset into a zero-based line and character.
func position(content []byte, offset int) schemas.Position {
	if offset > len(content) {
		offset = len(content)
	}
	before := content[:offset]
	line := bytes.Count(before, []byte{'\n'})
	lineStart := bytes.LastIndexByte(before, '\n') + 1
	return schemas.Position{Line: line, Character: utf8.RuneCount(before[lineStart:])}
}

// rankCandidates orders files by how well their name matches the URL path:
// same base name, then same stem, then everything else in path order.
func rankCandidates(files []string, resourceHint string) []string {
	base := "index.html"
	if u, err := url.Parse(resourceHint); err == nil {
		if p := strings.TrimSuffix(u.Path, "/"); p != "" {
			base = path.Base(p)
		}
	}
	stem := strings.TrimSuffix(base, path.Ext(base))

	rank := func(file string) int {
		name := filepath.Base(file)
		switch {
		case name == base:
			return 0
		case strings.TrimSuffix(name, filepath.Ext(name)) == stem:
			return 1
		}
		return 2
	}

	out := append([]string(nil), files...)
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}
