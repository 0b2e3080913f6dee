package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/facelabel/internal/face"
	"github.com/andresmejia3/facelabel/internal/types"
)

func result(label string, dist float64) face.Result {
	return face.Result{
		Detection:      types.Detection{Box: types.Box{0, 0, 10, 10}, Confidence: 0.99},
		Identification: types.Identification{Label: label, Distance: dist},
	}
}

func TestCollectResults_ReordersByIndex(t *testing.T) {
	results := make(chan scanResult, 4)
	// Worker 2 finishes before worker 1
	results <- scanResult{Index: 2, Path: "c.jpg", Results: []face.Result{result("Alice", 0.3)}}
	results <- scanResult{Index: 0, Path: "a.jpg", Results: []face.Result{result("Alice", 0.1)}}
	results <- scanResult{Index: 1, Path: "b.jpg", Results: []face.Result{result("Bob", 0.2), result(types.Undetected, 1.4)}}
	results <- scanResult{Index: 3, Path: "d.jpg", Err: errors.New("python worker error: bad image")}
	close(results)

	calls := 0
	s := collectResults(results, func() { calls++ })

	if calls != 4 {
		t.Errorf("Expected 4 progress callbacks, got %d", calls)
	}
	if s.Images != 4 || s.Faces != 4 || s.Unknown != 1 || s.Failed != 1 {
		t.Errorf("Unexpected totals %+v", s)
	}
	alice := s.Seen["Alice"]
	if len(alice) != 2 || alice[0] != "a.jpg" || alice[1] != "c.jpg" {
		t.Errorf("Expected Alice in a.jpg then c.jpg, got %v", alice)
	}
	if _, ok := s.Seen[types.Undetected]; ok {
		t.Error("Undetected faces must not be listed as an identity")
	}
}

func TestCollectResults_KeepsResultsAfterGap(t *testing.T) {
	results := make(chan scanResult, 2)
	results <- scanResult{Index: 3, Path: "d.jpg"}
	results <- scanResult{Index: 1, Path: "b.jpg"}
	close(results)

	s := collectResults(results, nil)
	if s.Images != 2 {
		t.Errorf("Expected both buffered results to be counted, got %d", s.Images)
	}
}

func TestScanSummary_CountsImageOncePerLabel(t *testing.T) {
	s := newScanSummary()
	s.add(scanResult{Path: "twins.jpg", Results: []face.Result{result("Ann", 0.1), result("Ann", 0.2)}})

	if got := s.Seen["Ann"]; len(got) != 1 {
		t.Errorf("Expected twins.jpg once, got %v", got)
	}
	if s.Faces != 2 {
		t.Errorf("Expected 2 faces, got %d", s.Faces)
	}
}

func TestScanSummary_Print(t *testing.T) {
	s := newScanSummary()
	s.add(scanResult{Path: "a.jpg", Results: []face.Result{result("Zed", 0.1), result("Amy", 0.1)}})
	s.add(scanResult{Path: "b.jpg", Err: errors.New("truncated file")})

	var buf bytes.Buffer
	s.Print(&buf, "run-1")
	out := buf.String()

	if !strings.Contains(out, "run-1") || !strings.Contains(out, "b.jpg: truncated file") {
		t.Errorf("Summary is missing run id or failure:\n%s", out)
	}
	if strings.Index(out, "Amy") > strings.Index(out, "Zed") {
		t.Errorf("Labels should be sorted:\n%s", out)
	}
}

func TestOutputPathFor(t *testing.T) {
	tests := []struct {
		root, path, outDir string
		want               string
	}{
		{"photos", "photos/team.jpg", "out", filepath.Join("out", "team_jpg_labeled.png")},
		{"photos", "photos/2024/party.webp", "out", filepath.Join("out", "2024", "party_webp_labeled.png")},
		{"photos", "elsewhere/x.png", "out", filepath.Join("out", "x_png_labeled.png")},
	}

	for _, tt := range tests {
		if got := outputPathFor(tt.root, tt.path, tt.outDir); got != tt.want {
			t.Errorf("outputPathFor(%q, %q, %q) = %q, want %q", tt.root, tt.path, tt.outDir, got, tt.want)
		}
	}
}

func TestOutputPathFor_SameNameDifferentFormat(t *testing.T) {
	jpg := outputPathFor("photos", "photos/team.jpg", "out")
	png := outputPathFor("photos", "photos/team.png", "out")
	if jpg == png {
		t.Errorf("team.jpg and team.png both map to %q", jpg)
	}
}

func TestExcludeDir(t *testing.T) {
	paths := []string{"photos/a.jpg", "photos/labeled/a_labeled.png", "photos/labeledx/b.jpg"}
	got := excludeDir(paths, "photos/labeled")

	if len(got) != 2 || got[0] != "photos/a.jpg" || got[1] != "photos/labeledx/b.jpg" {
		t.Errorf("excludeDir() = %v", got)
	}
}

func TestValidateScanFlags(t *testing.T) {
	// Create a temp file for invalid input
	tmpFile, err := os.CreateTemp("", "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	// Create a temp dir for valid input
	tmpDir := t.TempDir()

	valid := Options{
		InputPath:          tmpDir,
		NumEngines:         2,
		MatchThreshold:     0.9,
		DetectionThreshold: 0.9,
		DPI:                96,
	}

	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{name: "Valid options", mutate: func(o *Options) {}},
		{name: "Engines clamp to one", mutate: func(o *Options) { o.NumEngines = 0 }},
		{name: "Input does not exist", mutate: func(o *Options) { o.InputPath = "nonexistent_dir" }, wantErr: true},
		{name: "Input is a file", mutate: func(o *Options) { o.InputPath = tmpFile.Name() }, wantErr: true},
		{name: "Zero match threshold", mutate: func(o *Options) { o.MatchThreshold = 0 }, wantErr: true},
		{name: "Detection threshold above one", mutate: func(o *Options) { o.DetectionThreshold = 1.5 }, wantErr: true},
		{name: "Too many engines", mutate: func(o *Options) { o.NumEngines = 500 }, wantErr: true},
		{name: "Zero DPI", mutate: func(o *Options) { o.DPI = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)

			err := validateScanFlags(&opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateScanFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (opts.NumEngines < 1 || opts.OutputDir == "") {
				t.Errorf("Defaults not applied: %+v", opts)
			}
		})
	}
}

func TestValidateOptions_OutputMustBePNG(t *testing.T) {
	opts := Options{InputPath: "in.jpg", OutputPath: "out.jpg", MatchThreshold: 0.9, DetectionThreshold: 0.9, DPI: 96}
	if err := validateOptions(&opts); err == nil {
		t.Error("Expected error for non-PNG output")
	}
	opts.OutputPath = "out.png"
	if err := validateOptions(&opts); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
