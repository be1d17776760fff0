package fswalk

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func populate(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatal(err)
			}
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFind(t *testing.T) {
	t.Chdir(t.TempDir())
	populate(t, "docker/Dockerfile", "docker/app/main.go", "unrelated.txt")

	got, err := Find("docker")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	want := []string{"./docker/Dockerfile", "./docker/app/main.go"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Find = %v, want %v", got, want)
	}
}

func TestGlob(t *testing.T) {
	t.Chdir(t.TempDir())
	populate(t, "a.c", "b.c", "a.h", "sub/c.c")

	tests := []struct {
		pattern string
		want    []string
	}{
		{"*.c", []string{"./a.c", "./b.c"}},
		{"**.c", []string{"./a.c", "./b.c", "./sub/c.c"}},
		{"sub/*", []string{"./sub/c.c"}},
		{"*.zig", nil},
	}
	for _, tt := range tests {
		got, err := Glob(tt.pattern)
		if err != nil {
			t.Errorf("Glob(%q) failed: %v", tt.pattern, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Glob(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}

func TestGlob_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Glob("[unterminated"); err == nil {
		t.Fatal("invalid glob accepted")
	}
}
