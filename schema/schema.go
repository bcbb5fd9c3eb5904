// Package schema holds the graph schema snapshot and renders it as the
// compact text block handed to the query generation prompt.
package schema

import (
	"errors"
	"strings"
)

// ErrConflictingFilters is returned when both an include list and an
// exclude list are supplied.
var ErrConflictingFilters = errors.New("schema: include and exclude types are mutually exclusive")

// Property is one declared property of a node label or relationship type.
type Property struct {
	Name string `json:"property" yaml:"property"`
	Type string `json:"type" yaml:"type"`
}

// TypeProperties lists the properties of a single node label or
// relationship type, in the order the graph store reported them.
type TypeProperties struct {
	Name       string     `json:"name" yaml:"name"`
	Properties []Property `json:"properties" yaml:"properties"`
}

// Triple is a valid (start label, relationship type, end label) connection.
type Triple struct {
	Start string `json:"start" yaml:"start"`
	Type  string `json:"type" yaml:"type"`
	End   string `json:"end" yaml:"end"`
}

// String renders the triple as a Cypher path pattern.
func (t Triple) String() string {
	return "(:" + t.Start + ")-[:" + t.Type + "]->(:" + t.End + ")"
}

// Description is an immutable snapshot of a graph's schema. Slices keep the
// store's reporting order; nothing here is sorted.
type Description struct {
	NodeProps     []TypeProperties `json:"node_props" yaml:"node_props"`
	RelProps      []TypeProperties `json:"rel_props" yaml:"rel_props"`
	Relationships []Triple         `json:"relationships" yaml:"relationships"`
}

// Labels returns the node labels in reporting order.
func (d *Description) Labels() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.NodeProps))
	for _, n := range d.NodeProps {
		out = append(out, n.Name)
	}
	return out
}

// Triples returns a copy of the relationship triples.
func (d *Description) Triples() []Triple {
	if d == nil {
		return nil
	}
	out := make([]Triple, len(d.Relationships))
	copy(out, d.Relationships)
	return out
}

// Filter returns the subset of d whose type names pass the include/exclude
// predicate. A triple survives only when its start, type and end all pass.
func Filter(d *Description, include, exclude []string) (*Description, error) {
	if len(include) > 0 && len(exclude) > 0 {
		return nil, ErrConflictingFilters
	}
	if d == nil {
		return &Description{}, nil
	}

	keep := predicate(include, exclude)
	out := &Description{}
	for _, n := range d.NodeProps {
		if keep(n.Name) {
			out.NodeProps = append(out.NodeProps, n)
		}
	}
	for _, r := range d.RelProps {
		if keep(r.Name) {
			out.RelProps = append(out.RelProps, r)
		}
	}
	for _, t := range d.Relationships {
		if keep(t.Start) && keep(t.Type) && keep(t.End) {
			out.Relationships = append(out.Relationships, t)
		}
	}
	return out, nil
}

// Project filters d and renders it as the six-line text block used in the
// query generation prompt.
func Project(d *Description, include, exclude []string) (string, error) {
	f, err := Filter(d, include, exclude)
	if err != nil {
		return "", err
	}
	return f.Text(), nil
}

// Text renders d without filtering.
func (d *Description) Text() string {
	nodes := make([]string, 0, len(d.NodeProps))
	for _, n := range d.NodeProps {
		nodes = append(nodes, formatType(n))
	}
	rels := make([]string, 0, len(d.RelProps))
	for _, r := range d.RelProps {
		rels = append(rels, formatType(r))
	}
	triples := make([]string, 0, len(d.Relationships))
	for _, t := range d.Relationships {
		triples = append(triples, t.String())
	}

	return strings.Join([]string{
		"Node properties are the following:",
		strings.Join(nodes, ","),
		"Relationship properties are the following:",
		strings.Join(rels, ","),
		"The relationships are the following:",
		strings.Join(triples, ","),
	}, "\n")
}

func formatType(tp TypeProperties) string {
	props := make([]string, 0, len(tp.Properties))
	for _, p := range tp.Properties {
		props = append(props, p.Name+": "+p.Type)
	}
	return tp.Name + " {" + strings.Join(props, ", ") + "}"
}

func predicate(include, exclude []string) func(string) bool {
	if len(include) > 0 {
		set := toSet(include)
		return func(name string) bool { _, ok := set[name]; return ok }
	}
	set := toSet(exclude)
	return func(name string) bool { _, ok := set[name]; return !ok }
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
