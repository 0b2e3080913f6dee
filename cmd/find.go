package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facelabel/internal/face"
	"github.com/andresmejia3/facelabel/internal/utils"
	"github.com/spf13/cobra"
)

var findOpts Options

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Identify the faces in an image against the gallery without rendering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		findOpts.InputPath = args[0]
		applyConfig(cmd, &findOpts)
		return runFind(cmd.Context(), findOpts)
	},
}

func init() {
	addMatchFlags(findCmd, &findOpts)
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, opts Options) error {
	if err := validateOptions(&opts); err != nil {
		utils.ShowError("Invalid options", err, nil)
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

	g, err := loadGallery(ctx, cfg.Gallery)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	eng, w, err := openEngine(ctx, 0, g, opts)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	fmt.Fprintf(os.Stderr, "🔍 Analyzing faces (match threshold %.2f)...\n", eng.Resolver().Threshold())
	results, err := eng.Identify(ctx, img)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return err
	}

	if len(results) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	writeResultTable(os.Stdout, results)
	return nil
}

// writeResultTable prints identified faces in detector order.
func writeResultTable(out io.Writer, results []face.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tBOX\tCONFIDENCE\tLABEL\tDISTANCE")
	fmt.Fprintln(w, "-\t---\t----------\t-----\t--------")

	for i, r := range results {
		fmt.Fprintf(w, "%d\t%.0f,%.0f %.0fx%.0f\t%.3f\t%s\t%.2f\n",
			i+1,
			r.Box[0], r.Box[1], r.Box.Width(), r.Box.Height(),
			r.Confidence,
			r.Label,
			r.Distance,
		)
	}
	w.Flush()
}
