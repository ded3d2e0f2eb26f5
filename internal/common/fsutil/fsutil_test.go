package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}

	// raw and empty paths pass through untouched
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}

	p, err := ExpandHome("~")
	if err != nil || p != home {
		t.Fatalf("expected %q, got %q (err=%v)", home, p, err)
	}

	exp, err := ExpandHome("~/models")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if exp != filepath.Join(home, "models") {
		t.Fatalf("unexpected expanded path: %q", exp)
	}
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	if PathExists(p) {
		t.Fatal("missing file reported as existing")
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !PathExists(p) {
		t.Fatal("existing file reported as missing")
	}
}

func TestIsExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("execute bits not meaningful on windows")
	}
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	execf := filepath.Join(dir, "execf")
	if err := os.WriteFile(plain, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(execf, []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}
	if IsExecutable(plain) {
		t.Fatal("non-executable file accepted")
	}
	if !IsExecutable(execf) {
		t.Fatal("executable file rejected")
	}
	if IsExecutable(dir) {
		t.Fatal("directory accepted")
	}
	if IsExecutable(filepath.Join(dir, "missing")) {
		t.Fatal("missing file accepted")
	}
}
