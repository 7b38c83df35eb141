package imdbsync

import (
	"slices"

	"github.com/rotisserie/eris"
)

// Registry maps dataset names to their implementations. Registration order
// is dependency order: principals joins against the tables the other two
// datasets fill.
type Registry struct {
	datasets map[string]Dataset
	order    []string
}

// NewRegistry returns a registry holding every IMDb dataset.
func NewRegistry() *Registry {
	r := &Registry{datasets: make(map[string]Dataset)}
	for _, d := range []Dataset{&NameBasics{}, &TitleBasics{}, &Principals{}} {
		r.Register(d)
	}
	return r
}

// Register adds a dataset. Call in dependency order.
func (r *Registry) Register(d Dataset) {
	r.datasets[d.Name()] = d
	r.order = append(r.order, d.Name())
}

// Get returns a dataset by name.
func (r *Registry) Get(name string) (Dataset, error) {
	d, ok := r.datasets[name]
	if !ok {
		return nil, eris.Errorf("imdbsync: unknown dataset %q", name)
	}
	return d, nil
}

// Select returns the named datasets in registration order, or every
// dataset when names is empty. Unknown names are an error.
func (r *Registry) Select(names []string) ([]Dataset, error) {
	if len(names) == 0 {
		return r.All(), nil
	}

	want := make(map[string]bool, len(names))
	for _, name := range names {
		if _, err := r.Get(name); err != nil {
			return nil, err
		}
		want[name] = true
	}

	var out []Dataset
	for _, name := range r.order {
		if want[name] {
			out = append(out, r.datasets[name])
		}
	}
	return out, nil
}

// All returns every dataset in registration order.
func (r *Registry) All() []Dataset {
	out := make([]Dataset, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.datasets[name])
	}
	return out
}

// AllNames returns the registered names in registration order.
func (r *Registry) AllNames() []string {
	return slices.Clone(r.order)
}
