package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinsArePreloaded(t *testing.T) {
	r := NewRegistry()
	if got := len(r.List()); got != 4 {
		t.Fatalf("builtin count = %d, want 4", got)
	}
	s, ok := r.Get("college-party")
	if !ok {
		t.Fatal("college-party missing")
	}
	if s.NPCName != "Alex" {
		t.Fatalf("npc = %q", s.NPCName)
	}
}

func TestSystemPromptUsesBuiltinPersona(t *testing.T) {
	r := NewRegistry()
	s, _ := r.Get("college-party")
	prompt := s.SystemPrompt()
	if !strings.Contains(prompt, "You are Alex") {
		t.Fatalf("prompt missing persona name: %q", prompt)
	}
	if !strings.Contains(prompt, "Keep responses under 100 words.") {
		t.Fatal("prompt missing length constraint")
	}
}

func TestSystemPromptFallsBackToDefault(t *testing.T) {
	s := Scenario{ID: "custom", NPCName: "Sam", Goal: "g"}
	if !strings.Contains(s.SystemPrompt(), "You are Sam.") {
		t.Fatalf("prompt = %q", s.SystemPrompt())
	}
}

func TestSystemPromptCustomTemplate(t *testing.T) {
	s := Scenario{ID: "custom", NPCName: "Sam", Goal: "g", Prompt: "You are {npc}, a barista. {npc} is friendly."}
	got := s.SystemPrompt()
	if got != "You are Sam, a barista. Sam is friendly." {
		t.Fatalf("prompt = %q", got)
	}
}

func writePack(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDirAddsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "extra.yaml", `
id: coffee-date
npc_name: Morgan
setting: a quiet cafe
goal: Practice a low-pressure first conversation
`)
	// Nested directories are discovered too, and builtins can be overridden.
	writePack(t, dir, filepath.Join("nested", "override.yml"), `
id: college-party
npc_name: Casey
goal: Custom goal
`)

	r := NewRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if got := len(r.List()); got != 5 {
		t.Fatalf("scenario count = %d, want 5", got)
	}
	s, ok := r.Get("coffee-date")
	if !ok || s.NPCName != "Morgan" {
		t.Fatalf("coffee-date = %+v ok=%v", s, ok)
	}
	s, _ = r.Get("college-party")
	if s.NPCName != "Casey" {
		t.Fatalf("override npc = %q", s.NPCName)
	}
}

func TestLoadDirRejectsInvalidPack(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing goal", "id: x\nnpc_name: Sam\n"},
		{"unknown field", "id: x\nnpc_name: Sam\ngoal: g\nbogus: y\n"},
		{"empty id", "id: \"\"\nnpc_name: Sam\ngoal: g\n"},
		{"not yaml", "{{{{\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writePack(t, dir, "bad.yaml", tc.content)
			if err := NewRegistry().LoadDir(dir); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadDirMissingDirIsNotAnError(t *testing.T) {
	r := NewRegistry()
	if err := r.LoadDir(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if err := r.LoadDir(""); err != nil {
		t.Fatalf("LoadDir empty: %v", err)
	}
}

func TestListIsSorted(t *testing.T) {
	r := NewRegistry()
	list := r.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID > list[i].ID {
			t.Fatalf("list not sorted: %s > %s", list[i-1].ID, list[i].ID)
		}
	}
}
