package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// Links holds RFC 8288 Link header values keyed by operation path.
type Links struct {
	mu    sync.RWMutex
	paths map[string][]string
}

// NewLinks creates a registry seeded with static links.
func NewLinks(static map[string][]string) *Links {
	l := &Links{paths: make(map[string][]string)}
	for from, values := range static {
		for _, v := range values {
			l.add(from, v)
		}
	}
	return l
}

// Add registers a link from one operation path to a target.
func (l *Links) Add(from, to, rel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(from, fmt.Sprintf(`<%s>; rel="%s"`, to, rel))
}

func (l *Links) add(from, value string) {
	if !slices.Contains(l.paths[from], value) {
		l.paths[from] = append(l.paths[from], value)
	}
}

// For returns the links registered for an operation path.
func (l *Links) For(opPath string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.paths[opPath])
}

// Discover walks the registered operations and links every item path
// to its parent collection, and the entry point to every collection.
// Call after all routes are registered.
func (l *Links) Discover(api huma.API, entry string) {
	oapi := api.OpenAPI()
	for p := range oapi.Paths {
		if strings.Contains(p, "{") {
			if parent := path.Dir(p); oapi.Paths[parent] != nil {
				l.Add(p, parent, "collection")
			}
			continue
		}
		if p != entry {
			l.Add(entry, p, path.Base(p))
		}
	}
	l.Add(entry, "/openapi.json", "service-desc")
	l.Add(entry, "/docs", "service-doc")
}

// LinkTransformer returns a Huma Transformer that injects Link headers:
// the registered links, a self link on item paths and any state-dependent
// actions the body exposes.
func LinkTransformer(l *Links) huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}

		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}
