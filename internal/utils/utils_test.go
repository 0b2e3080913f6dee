package utils

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "face.png")
	writePNG(t, path, 4, 3)

	img, err := DecodeImage(path)
	if err != nil {
		t.Fatalf("DecodeImage failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("Expected 4x3 image, got %v", b)
	}

	// Not an image
	bad := filepath.Join(dir, "notes.png")
	os.WriteFile(bad, []byte("hello"), 0644)
	if _, err := DecodeImage(bad); err == nil {
		t.Error("Expected decode error for non-image content")
	}

	if _, err := DecodeImage(filepath.Join(dir, "missing.png")); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "b"), 0755)
	os.MkdirAll(filepath.Join(dir, ".cache"), 0755)

	for _, name := range []string{"z.jpg", "a.PNG", "b/c.webp", ".cache/hidden.png", "readme.txt"} {
		os.WriteFile(filepath.Join(dir, name), []byte{0}, 0644)
	}

	got, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages failed: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.PNG"),
		filepath.Join(dir, "b", "c.webp"),
		filepath.Join(dir, "z.jpg"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListImages() = %v, want %v", got, want)
	}
}

func TestLabeledPath(t *testing.T) {
	tests := []struct {
		input, outDir, want string
	}{
		{"photos/team.jpg", "", filepath.Join("photos", "team_labeled.png")},
		{"photos/team.jpg", "out", filepath.Join("out", "team_labeled.png")},
		{"single.v2.webp", "", "single.v2_labeled.png"},
	}
	for _, tt := range tests {
		if got := LabeledPath(tt.input, tt.outDir); got != tt.want {
			t.Errorf("LabeledPath(%q, %q) = %q, want %q", tt.input, tt.outDir, got, tt.want)
		}
	}
}

func TestDistinctLabeledPath(t *testing.T) {
	tests := []struct {
		input, outDir, want string
	}{
		{"photos/team.jpg", "out", filepath.Join("out", "team_jpg_labeled.png")},
		{"photos/team.PNG", "", filepath.Join("photos", "team_png_labeled.png")},
		{"single.v2.webp", "", "single.v2_webp_labeled.png"},
		{"photos/noext", "out", filepath.Join("out", "noext_labeled.png")},
	}
	for _, tt := range tests {
		if got := DistinctLabeledPath(tt.input, tt.outDir); got != tt.want {
			t.Errorf("DistinctLabeledPath(%q, %q) = %q, want %q", tt.input, tt.outDir, got, tt.want)
		}
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	c := NewSafeCommandContext(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err := c.Run(); err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if got := c.Stderr.String(); got != "boom\n" {
		t.Errorf("Expected captured stderr 'boom', got %q", got)
	}
}
