package enrich

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadPriority reads a source-priority override file: either a bare YAML
// list of source names or a document with a "priority" key holding one.
// The cascade order is hand-tuned configuration, not code, so operators
// can reorder sources without a rebuild. Unknown names are left in; the
// registry warns and skips them at build.
func LoadPriority(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: read priority file %s", path)
	}

	var doc struct {
		Priority []string `yaml:"priority"`
	}
	if err := yaml.Unmarshal(raw, &doc); err == nil && len(doc.Priority) > 0 {
		return cleanPriority(doc.Priority, path)
	}

	var list []string
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, eris.Wrapf(err, "enrich: parse priority file %s", path)
	}
	return cleanPriority(list, path)
}

func cleanPriority(names []string, path string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, eris.Errorf("enrich: priority file %s lists no sources", path)
	}
	return out, nil
}
