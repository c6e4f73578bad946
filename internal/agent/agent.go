package agent

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrUnknownAgent = errors.New("unknown agent")

type Profile struct {
	Name         string `yaml:"-" json:"name"`
	DisplayName  string `yaml:"display_name" json:"display_name"`
	Instructions string `yaml:"instructions" json:"instructions"`
	Greeting     string `yaml:"greeting" json:"greeting"`
}

// Tool is a function declaration exposed to the model. Parameters hold the
// JSON schema as loaded from YAML.
type Tool struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters"`
}

type registryFile struct {
	PracticeName string             `yaml:"practice_name"`
	DefaultAgent string             `yaml:"default_agent"`
	Agents       map[string]Profile `yaml:"agents"`
	Functions    []Tool             `yaml:"functions"`
}

type Registry struct {
	practiceName string
	defaultName  string
	profiles     map[string]Profile
	tools        []Tool
}

func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents file %s: %w", path, err)
	}

	return newRegistry(f)
}

func newRegistry(f registryFile) (*Registry, error) {
	if len(f.Agents) == 0 {
		return nil, errors.New("agents file defines no agents")
	}
	if f.DefaultAgent == "" {
		return nil, errors.New("agents file missing default_agent")
	}
	if _, ok := f.Agents[f.DefaultAgent]; !ok {
		return nil, fmt.Errorf("default agent %q not defined", f.DefaultAgent)
	}

	profiles := make(map[string]Profile, len(f.Agents))
	for name, p := range f.Agents {
		if strings.TrimSpace(p.Instructions) == "" {
			return nil, fmt.Errorf("agent %q has no instructions", name)
		}
		p.Name = name
		if p.DisplayName == "" {
			p.DisplayName = strings.ToUpper(name[:1]) + name[1:]
		}
		if p.Greeting == "" {
			p.Greeting = fmt.Sprintf("Hello! Welcome to %s.", f.PracticeName)
		}
		p.Instructions = strings.ReplaceAll(p.Instructions, "{{practice_name}}", f.PracticeName)
		p.Greeting = strings.ReplaceAll(p.Greeting, "{{practice_name}}", f.PracticeName)
		profiles[name] = p
	}

	return &Registry{
		practiceName: f.PracticeName,
		defaultName:  f.DefaultAgent,
		profiles:     profiles,
		tools:        f.Functions,
	}, nil
}

func (r *Registry) Get(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return p, nil
}

func (r *Registry) Default() Profile {
	return r.profiles[r.defaultName]
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Tools() []Tool {
	return r.tools
}

func (r *Registry) PracticeName() string {
	return r.practiceName
}
