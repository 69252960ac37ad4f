package gmatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImportLoader finds the grammars referenced with `@name`
type ImportLoader interface {
	// GetPath resolves `name` as referenced from the grammar at
	// `parentPath`
	GetPath(name, parentPath string) (string, error)
	// GetContent returns the grammar found at `path`
	GetContent(path string) (GrammarSource, error)
}

// RelativeImportLoader looks for `name.lark` or `name.json` (a JSON
// schema) in the directory of the grammar that references it
type RelativeImportLoader struct{}

func NewRelativeImportLoader() *RelativeImportLoader {
	return &RelativeImportLoader{}
}

func (ril *RelativeImportLoader) GetPath(name, parentPath string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("grammar name can't contain a path: %s", name)
	}
	dir := filepath.Dir(parentPath)
	for _, ext := range []string{".lark", ".json"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("unknown grammar %q", name)
}

func (ril *RelativeImportLoader) GetContent(path string) (GrammarSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if filepath.Ext(path) == ".json" {
		return &JSONSchemaSource{Name: name, Schema: data}, nil
	}
	return &LarkSource{Name: name, Text: string(data)}, nil
}

// InMemoryImportLoader serves grammars registered by name, like the
// side grammars of a grammar list
type InMemoryImportLoader struct{ grammars map[string]GrammarSource }

func NewInMemoryImportLoader() *InMemoryImportLoader {
	return &InMemoryImportLoader{grammars: map[string]GrammarSource{}}
}

func (l *InMemoryImportLoader) Add(name string, src GrammarSource) {
	l.grammars[name] = src
}

func (l *InMemoryImportLoader) GetPath(name, _ string) (string, error) {
	if _, ok := l.grammars[name]; !ok {
		return "", fmt.Errorf("unknown grammar %q", name)
	}
	return name, nil
}

func (l *InMemoryImportLoader) GetContent(path string) (GrammarSource, error) {
	src, ok := l.grammars[path]
	if !ok {
		return nil, fmt.Errorf("unknown grammar %q", path)
	}
	return src, nil
}

// chainLoader tries each loader in turn
type chainLoader []ImportLoader

func (c chainLoader) GetPath(name, parentPath string) (string, error) {
	var err error
	for _, l := range c {
		if l == nil {
			continue
		}
		var path string
		if path, err = l.GetPath(name, parentPath); err == nil {
			return path, nil
		}
	}
	if err == nil {
		err = fmt.Errorf("unknown grammar %q", name)
	}
	return "", err
}

func (c chainLoader) GetContent(path string) (GrammarSource, error) {
	var err error
	for _, l := range c {
		if l == nil {
			continue
		}
		var src GrammarSource
		if src, err = l.GetContent(path); err == nil {
			return src, nil
		}
	}
	if err == nil {
		err = fmt.Errorf("unknown grammar %q", path)
	}
	return nil, err
}
