package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath returns the effective value at a dot path such as "api.base_url"
// or "snapshots.redis". Sections come back as map[string]any. An empty path
// returns the whole configuration.
func (c *Config) GetPath(path string) (any, error) {
	var root yaml.Node
	if err := root.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	node, err := walk(&root, pathKeys(path), false)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", path, err)
	}
	var out any
	if err := node.Decode(&out); err != nil {
		return nil, fmt.Errorf("path %q: %w", path, err)
	}
	return out, nil
}

// SetPath writes a scalar at path into the source document and reloads from
// it. The result must validate or nothing changes. With persist the file is
// replaced only after the edited copy loads cleanly.
//
// ${VAR} references elsewhere in the file stay as written.
func (c *Config) SetPath(path, value string, persist bool) error {
	keys := pathKeys(path)
	if len(keys) == 0 {
		return fmt.Errorf("empty config path")
	}
	if c.source == nil || c.source.Kind != yaml.DocumentNode || len(c.source.Content) == 0 {
		return fmt.Errorf("no configuration file loaded")
	}

	doc := copyNode(c.source)
	leaf, err := walk(doc.Content[0], keys, true)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*leaf = yaml.Node{
		Kind:        yaml.ScalarNode,
		Tag:         scalarTag(value),
		Value:       value,
		LineComment: leaf.LineComment,
	}

	candidate, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	next := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(candidate))), next); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if err := applyEnv(next); err != nil {
		return err
	}
	if err := validate(next); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	next.Fingerprint = c.Fingerprint
	if persist {
		if err := replaceFile(c.SourcePath, candidate); err != nil {
			return err
		}
		next.Fingerprint = Fingerprint(candidate)
	}
	next.SourcePath = c.SourcePath
	next.source = doc
	*c = *next
	return nil
}

func pathKeys(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '.' })
}

// walk follows keys through nested mappings. With create, missing keys are
// appended as empty mappings for the caller to fill.
func walk(node *yaml.Node, keys []string, create bool) (*yaml.Node, error) {
	for _, key := range keys {
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%q is not inside a mapping", key)
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			if !create {
				return nil, fmt.Errorf("key %q not found", key)
			}
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, next)
		}
		node = next
	}
	return node, nil
}

func copyNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Content = make([]*yaml.Node, len(n.Content))
	for i, child := range n.Content {
		out.Content[i] = copyNode(child)
	}
	out.Alias = copyNode(n.Alias)
	return &out
}

// scalarTag keeps booleans and integers typed when they are written back.
func scalarTag(v string) string {
	if v == "true" || v == "false" {
		return "!!bool"
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return "!!int"
	}
	return "!!str"
}

// replaceFile loads data from a sibling temp file and renames it over target
// once it loads.
func replaceFile(target string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".pipewatch-*.yaml")
	if err != nil {
		return fmt.Errorf("stage config change: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("stage config change: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage config change: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("stage config change: %w", err)
	}
	if _, err := Load(tmpPath); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("persist config change: %w", err)
	}
	return nil
}
