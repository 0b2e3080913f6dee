package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/andresmejia3/facelabel/internal/config"
	"github.com/andresmejia3/facelabel/internal/face"
	"github.com/andresmejia3/facelabel/internal/gallery"
	"github.com/andresmejia3/facelabel/internal/store"
	"github.com/andresmejia3/facelabel/internal/types"
	"github.com/andresmejia3/facelabel/internal/utils"
	"github.com/andresmejia3/facelabel/internal/worker"
	"github.com/spf13/cobra"
)

var enrollOpts Options

var enrollCmd = &cobra.Command{
	Use:   "enroll <image_path> <label>",
	Short: "Add the largest face in an image to the gallery under a label",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		enrollOpts.InputPath = args[0]
		if !cmd.Flags().Changed("detection-threshold") {
			enrollOpts.DetectionThreshold = cfg.Match.DetectionThreshold
		}
		return runEnroll(cmd.Context(), enrollOpts, args[1])
	},
}

func init() {
	enrollCmd.Flags().Float64VarP(&enrollOpts.DetectionThreshold, "detection-threshold", "D", config.DefaultDetectionThreshold, "Minimum detector confidence for the enrolled face")
	galleryCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, opts Options, label string) error {
	if label == "" || label == types.Undetected {
		err := fmt.Errorf("label %q is reserved or empty", label)
		utils.ShowError("Invalid label", err, nil)
		return err
	}
	if err := checkInputFile(opts.InputPath); err != nil {
		utils.ShowError("Input file is not usable", err, nil)
		return err
	}

	img, err := utils.DecodeImage(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to read image", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewPythonWorker(ctx, 0, workerConfig())
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	dets, err := face.NewLocator(w).Locate(ctx, img)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return err
	}

	best, ok := largestFace(dets, opts.DetectionThreshold)
	if !ok {
		fmt.Println("❌ No confident face detected in the provided image.")
		return nil
	}
	if len(dets) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(dets))
	}

	embs, err := w.Embed(ctx, []types.Tensor{best.Crop})
	if err != nil {
		utils.ShowError("Embedding failed", err, w.Cmd)
		return err
	}
	if len(embs) != 1 {
		err := fmt.Errorf("engine returned %d embeddings for one face", len(embs))
		utils.ShowError("Embedding failed", err, w.Cmd)
		return err
	}
	entry := types.GalleryEntry{Label: label, Embedding: embs[0]}

	if err := appendEntry(ctx, cfg.Gallery, entry); err != nil {
		utils.ShowError("Failed to save gallery entry", err, nil)
		return err
	}

	fmt.Printf("✅ Enrolled '%s' into %s\n", label, cfg.Gallery)
	return nil
}

// largestFace picks the detection with the biggest box among those at or above minConf.
func largestFace(dets []types.Detection, minConf float64) (types.Detection, bool) {
	var best types.Detection
	found := false
	for _, d := range dets {
		if d.Confidence < minConf {
			continue
		}
		if !found || d.Box.Area() > best.Box.Area() {
			best, found = d, true
		}
	}
	return best, found
}

// appendEntry adds entry to the gallery at location, creating a missing gallery file.
// The combined gallery is validated first so a mismatched embedding size is never stored.
func appendEntry(ctx context.Context, location string, entry types.GalleryEntry) error {
	if store.IsURL(location) {
		db, err := store.New(ctx, location)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close(context.Background())

		existing, err := db.LoadEntries(ctx)
		if err != nil {
			return err
		}
		if _, err := gallery.New(append(existing, entry)); err != nil {
			return err
		}
		_, err = db.InsertEntry(ctx, entry)
		return err
	}

	entries, err := gallery.ReadEntries(location)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	entries = append(entries, entry)
	if _, err := gallery.New(entries); err != nil {
		return err
	}
	return gallery.WriteFile(location, entries)
}
