package utils

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if an engine dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommandContext initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it; the process is killed when ctx is done.
func NewSafeCommandContext(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps engine logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACELABEL ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nENGINE LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit. Only used where no caller can recover.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Images ---

// imageExts are the formats the registered decoders understand
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// IsImage reports whether the file extension is a decodable image format
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// DecodeImage opens and decodes an image file of any registered format.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// ListImages walks dir recursively and returns image paths in lexical order
// so that batch output is reproducible.
func ListImages(dir string) ([]string, error) {
	var paths []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				// Skip hidden directories such as .git
				if path != dir && strings.HasPrefix(de.Name(), ".") {
					return godirwalk.SkipThis
				}
				return nil
			}
			if IsImage(path) {
				paths = append(paths, path)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// LabeledPath derives the annotated output name for an input image:
// photos/team.jpg -> <outDir>/team_labeled.png (outDir defaults to the input's directory).
func LabeledPath(input, outDir string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if outDir == "" {
		outDir = filepath.Dir(input)
	}
	return filepath.Join(outDir, base+"_labeled.png")
}

// DistinctLabeledPath is LabeledPath with the source extension kept in the name,
// so team.jpg and team.png in one directory get separate outputs:
// photos/team.jpg -> <outDir>/team_jpg_labeled.png
func DistinctLabeledPath(input, outDir string) string {
	ext := filepath.Ext(input)
	if ext == "" {
		return LabeledPath(input, outDir)
	}
	base := strings.TrimSuffix(filepath.Base(input), ext)
	if outDir == "" {
		outDir = filepath.Dir(input)
	}
	return filepath.Join(outDir, base+"_"+strings.ToLower(ext[1:])+"_labeled.png")
}
