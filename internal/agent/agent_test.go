package agent

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	content := `
practice_name: Halcyon Medical Centre
default_agent: receptionist
agents:
  receptionist:
    display_name: Receptionist
    instructions: You work at {{practice_name}}. Be helpful.
    greeting: Welcome to {{practice_name}}!
  dentist:
    instructions: You are the dentist.
functions:
  - name: transfer_call
    description: Transfer the caller.
    parameters:
      type: object
      properties:
        target_agent:
          type: string
      required: [target_agent]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write agents file: %v", err)
	}

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}

	recep, err := r.Get("receptionist")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !strings.Contains(recep.Instructions, "Halcyon Medical Centre") {
		t.Fatalf("expected practice name interpolated, got %q", recep.Instructions)
	}
	if recep.Greeting != "Welcome to Halcyon Medical Centre!" {
		t.Fatalf("unexpected greeting: %q", recep.Greeting)
	}

	dentist, err := r.Get("dentist")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if dentist.DisplayName != "Dentist" {
		t.Fatalf("expected derived display name, got %q", dentist.DisplayName)
	}
	if dentist.Greeting == "" {
		t.Fatal("expected fallback greeting")
	}

	if got := r.Default().Name; got != "receptionist" {
		t.Fatalf("expected default receptionist, got %q", got)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"dentist", "receptionist"}) {
		t.Fatalf("unexpected names: %#v", got)
	}
	if len(r.Tools()) != 1 || r.Tools()[0].Name != "transfer_call" {
		t.Fatalf("unexpected tools: %#v", r.Tools())
	}
}

func TestLoadRegistryValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no agents",
			content: "practice_name: X\ndefault_agent: a\n",
			wantErr: "no agents",
		},
		{
			name:    "missing default",
			content: "practice_name: X\nagents:\n  a:\n    instructions: hi\n",
			wantErr: "missing default_agent",
		},
		{
			name:    "default not defined",
			content: "practice_name: X\ndefault_agent: b\nagents:\n  a:\n    instructions: hi\n",
			wantErr: "not defined",
		},
		{
			name:    "agent without instructions",
			content: "practice_name: X\ndefault_agent: a\nagents:\n  a:\n    greeting: hi\n",
			wantErr: "no instructions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "agents.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write agents file: %v", err)
			}

			_, err := LoadRegistry(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetUnknownAgent(t *testing.T) {
	r := BuiltinRegistry()

	_, err := r.Get("surgeon")
	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestBuiltinRegistry(t *testing.T) {
	r := BuiltinRegistry()

	if got := r.Default().Name; got != "receptionist" {
		t.Fatalf("expected receptionist default, got %q", got)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"dentist", "nutritionist", "receptionist"}) {
		t.Fatalf("unexpected agents: %#v", got)
	}

	tools := r.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	for _, tool := range tools {
		if tool.Parameters["type"] != "object" {
			t.Fatalf("tool %s missing object schema", tool.Name)
		}
	}

	for _, name := range r.Names() {
		p, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", name, err)
		}
		if strings.Contains(p.Instructions, "{{practice_name}}") {
			t.Fatalf("agent %s instructions not interpolated", name)
		}
		if p.Greeting == "" {
			t.Fatalf("agent %s has empty greeting", name)
		}
	}
}
