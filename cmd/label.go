package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facelabel/internal/face"
	"github.com/andresmejia3/facelabel/internal/utils"
	"github.com/spf13/cobra"
)

var labelOpts Options

var labelCmd = &cobra.Command{
	Use:   "label <image_path>",
	Short: "Box and caption every confident face in an image and save it as PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		labelOpts.InputPath = args[0]
		applyConfig(cmd, &labelOpts)
		return runLabel(cmd.Context(), labelOpts)
	},
}

func init() {
	labelCmd.Flags().StringVarP(&labelOpts.OutputPath, "output", "o", "", "Output PNG (default: <name>_labeled.png next to the input)")
	addMatchFlags(labelCmd, &labelOpts)
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, opts Options) error {
	if err := validateOptions(&opts); err != nil {
		utils.ShowError("Invalid options", err, nil)
		return err
	}
	if err := checkInputFile(opts.InputPath); err != nil {
		utils.ShowError("Input file is not usable", err, nil)
		return err
	}
	if opts.OutputPath == "" {
		opts.OutputPath = utils.LabeledPath(opts.InputPath, "")
	}

	img, err := utils.DecodeImage(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to read image", err, nil)
		return err
	}

	g, err := loadGallery(ctx, cfg.Gallery)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// We use ID 0 for this ad-hoc worker
	eng, w, err := openEngine(ctx, 0, g, opts)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Labeling faces...")
	canvas, results, err := eng.AddLabelsToImage(ctx, img)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return err
	}

	if dir := filepath.Dir(opts.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			utils.ShowError("Failed to create output directory", err, nil)
			return err
		}
	}
	if err := canvas.SavePNG(opts.OutputPath); err != nil {
		utils.ShowError("Failed to write output image", err, nil)
		return err
	}

	printResults(results)
	fmt.Printf("✅ Saved %s (%d face(s) labeled)\n", opts.OutputPath, len(results))
	return nil
}

// printResults lists one line per labeled face.
func printResults(results []face.Result) {
	for _, r := range results {
		marker := "👤"
		if !r.Known() {
			marker = "❓"
		}
		fmt.Printf("%s %s\n", marker, face.Caption(r.Identification))
	}
}
