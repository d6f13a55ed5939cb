package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	replayDir := filepath.Join(tmpDir, "replay")
	outsideDir := filepath.Join(tmpDir, "outside")
	for _, d := range []string{replayDir, outsideDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	if err := os.Symlink(outsideDir, filepath.Join(replayDir, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"frame in directory", filepath.Join(replayDir, "f001.png"), false},
		{"nested frame", filepath.Join(replayDir, "run1", "f001.png"), false},
		{"dot dot escape", filepath.Join(replayDir, "..", "outside", "x.png"), true},
		{"symlink escape", filepath.Join(replayDir, "escape", "x.png"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, replayDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
		})
	}
}

func TestResolveWithin(t *testing.T) {
	dir := t.TempDir()

	got, err := ResolveWithin(dir, "frames/f001.png")
	if err != nil {
		t.Fatalf("ResolveWithin: %v", err)
	}
	if want := filepath.Join(dir, "frames", "f001.png"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := ResolveWithin(dir, "../f001.png"); err == nil {
		t.Error("expected traversal error")
	}
	if _, err := ResolveWithin(dir, "/etc/passwd"); err == nil {
		t.Error("expected absolute path error")
	}
}
