package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrKeyNotSet is returned when a key has no value in the config file.
var ErrKeyNotSet = errors.New("key not set")

// sections are the top-level keys a config file may hold, taken from Config's
// yaml tags.
var sections = sectionNames()

func sectionNames() []string {
	t := reflect.TypeOf(Config{})
	names := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name != "" && name != "-" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ValidationError lists the issues that kept an edited document from being
// saved.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "config: invalid: " + strings.Join(parts, "; ")
}

// Document is the config file as written, edited by dotted keys such as
// "realtime.kinds.planning.endpoint". Defaults and environment overrides are
// not folded in, so saving never writes values the user did not set.
type Document struct {
	path string
	root map[string]any
}

// OpenDocument reads the config file at path. A missing or empty file yields
// an empty document.
func OpenDocument(path string) (*Document, error) {
	d := &Document{path: path, root: map[string]any{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &d.root); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if d.root == nil {
		d.root = map[string]any{}
	}
	return d, nil
}

// Path returns the file the document was read from.
func (d *Document) Path() string { return d.path }

// splitKey breaks a dotted key into segments. The first segment must name a
// config section.
func splitKey(key string) ([]string, error) {
	if key == "" {
		return nil, &ConfigError{Message: "empty config key"}
	}
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("config key %q contains an empty segment", key)}
		}
	}
	if _, ok := sort.Find(len(sections), func(i int) int { return strings.Compare(parts[0], sections[i]) }); !ok {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown section %q, want one of %s", parts[0], strings.Join(sections, ", "))}
	}
	return parts, nil
}

// Get returns the value written at key.
func (d *Document) Get(key string) (any, error) {
	parts, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	var cur any = d.root
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config: %s: %w", key, ErrKeyNotSet)
		}
		if cur, ok = m[p]; !ok {
			return nil, fmt.Errorf("config: %s: %w", key, ErrKeyNotSet)
		}
	}
	return cur, nil
}

// Set writes value at key, creating sections on the way. It refuses to turn
// an existing scalar into a section.
func (d *Document) Set(key string, value any) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}
	m := d.root
	for i, p := range parts[:len(parts)-1] {
		next, ok := m[p]
		if !ok {
			child := map[string]any{}
			m[p] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return &ConfigError{Message: fmt.Sprintf("%s holds a value, not a section", strings.Join(parts[:i+1], "."))}
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
	return nil
}

// Unset removes key and any sections it leaves empty.
func (d *Document) Unset(key string) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}
	if !unset(d.root, parts) {
		return fmt.Errorf("config: %s: %w", key, ErrKeyNotSet)
	}
	return nil
}

func unset(m map[string]any, parts []string) bool {
	if len(parts) == 1 {
		if _, ok := m[parts[0]]; !ok {
			return false
		}
		delete(m, parts[0])
		return true
	}
	child, ok := m[parts[0]].(map[string]any)
	if !ok || !unset(child, parts[1:]) {
		return false
	}
	if len(child) == 0 {
		delete(m, parts[0])
	}
	return true
}

// Resolve decodes the document the way Load would, minus environment
// overrides. Keys that no setting reads are rejected.
func (d *Document) Resolve() (Config, error) {
	data, err := yaml.Marshal(d.root)
	if err != nil {
		return Config{}, err
	}
	cfg := Defaults()
	if err := decode(data, &cfg, true); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	expandReferences(&cfg)
	return cfg, nil
}

// Save validates the document and writes it back. Nothing is written when
// the result would not load cleanly.
func (d *Document) Save() error {
	cfg, err := d.Resolve()
	if err != nil {
		return err
	}
	if issues := Validate(&cfg); len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}

	data, err := yaml.Marshal(d.root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(d.path, data, 0o600)
}
