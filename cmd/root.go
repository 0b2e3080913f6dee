package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facelabel/internal/config"
	"github.com/andresmejia3/facelabel/internal/face"
	"github.com/andresmejia3/facelabel/internal/gallery"
	"github.com/andresmejia3/facelabel/internal/log"
	"github.com/andresmejia3/facelabel/internal/store"
	"github.com/andresmejia3/facelabel/internal/worker"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the label, find, scan and enroll commands
type Options struct {
	InputPath          string  `validate:"required"`
	OutputPath         string  `validate:"omitempty,endswith=.png"`
	OutputDir          string
	NumEngines         int     `validate:"gte=0,lte=64"`
	MatchThreshold     float64 `validate:"gt=0"`
	DetectionThreshold float64 `validate:"gte=0,lte=1"`
	DPI                int     `validate:"gte=1,lte=1200"`
}

var (
	// cfg is loaded once in initConfig; persistent flags override it
	cfg *config.Config

	galleryFlag string
	logLevel    string
	pythonFlag  string
	scriptFlag  string
	debugEngine bool

	validate = validator.New()
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facelabel",
	Short:   "Face detection, identification and labeling against a known gallery",
	Version: Version, // This enables the --version flag
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&galleryFlag, "gallery", "", "Gallery file (.json/.yaml/.gob) or postgres:// URL (default: embeddings.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&pythonFlag, "python", "", "Python interpreter used to run the engine")
	rootCmd.PersistentFlags().StringVar(&scriptFlag, "engine-script", "", "Path to the engine script")
	rootCmd.PersistentFlags().BoolVar(&debugEngine, "debug-engine", false, "Run the engine in debug mode (verbose stderr)")
}

// initConfig loads .env, reads the environment and applies persistent flag overrides.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Ignoring malformed .env: %v\n", err)
	}

	cfg = config.Load()
	if galleryFlag != "" {
		cfg.Gallery = galleryFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if pythonFlag != "" {
		cfg.Engine.Python = pythonFlag
	}
	if scriptFlag != "" {
		cfg.Engine.Script = scriptFlag
	}

	log.Setup(log.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	log.Debug(log.Fields{"gallery": cfg.Gallery, "script": cfg.Engine.Script}, "configuration loaded")
}

// addMatchFlags registers the threshold and rendering flags shared by the identifying commands.
// Unset flags fall back to the environment in applyConfig.
func addMatchFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().Float64VarP(&opts.MatchThreshold, "threshold", "t", config.DefaultMatchThreshold, "Maximum embedding distance accepted as a match (lower is stricter)")
	cmd.Flags().Float64VarP(&opts.DetectionThreshold, "detection-threshold", "D", config.DefaultDetectionThreshold, "Minimum detector confidence for a face to be labeled")
	cmd.Flags().IntVar(&opts.DPI, "dpi", config.DefaultDPI, "Text density of the rendered output")
}

// applyConfig fills every option the user did not set on the command line from cfg.
func applyConfig(cmd *cobra.Command, opts *Options) {
	if cfg == nil {
		cfg = config.Load()
	}
	if !cmd.Flags().Changed("threshold") {
		opts.MatchThreshold = cfg.Match.Threshold
	}
	if !cmd.Flags().Changed("detection-threshold") {
		opts.DetectionThreshold = cfg.Match.DetectionThreshold
	}
	if !cmd.Flags().Changed("dpi") {
		opts.DPI = cfg.Render.DPI
	}
}

// validateOptions checks the struct tags on Options.
func validateOptions(opts *Options) error {
	if err := validate.Struct(opts); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed '%s' check (got %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return err
	}
	return nil
}

// loadGallery reads the gallery from a file or, for postgres:// locations, from the gallery table.
func loadGallery(ctx context.Context, location string) (*gallery.Gallery, error) {
	if !store.IsURL(location) {
		return gallery.LoadFile(location)
	}

	db, err := store.New(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// Use Background here because the main context might be cancelled already (due to Ctrl+C)
	defer db.Close(context.Background())

	entries, err := db.LoadEntries(ctx)
	if err != nil {
		return nil, err
	}
	return gallery.New(entries)
}

func workerConfig() worker.Config {
	return worker.Config{
		Python:      cfg.Engine.Python,
		Script:      cfg.Engine.Script,
		ReadTimeout: cfg.Engine.WorkerTimeout,
		Debug:       debugEngine,
	}
}

// openEngine starts an engine process and binds it, with the gallery, into a face.Engine.
// The caller owns the returned worker and must Close it.
func openEngine(ctx context.Context, id int, g *gallery.Gallery, opts Options) (*face.Engine, *worker.PythonWorker, error) {
	w, err := worker.NewPythonWorker(ctx, id, workerConfig())
	if err != nil {
		return nil, nil, err
	}

	eng, err := face.NewEngine(w, w, g, face.Options{
		MatchThreshold:     opts.MatchThreshold,
		DetectionThreshold: opts.DetectionThreshold,
		DPI:                opts.DPI,
	})
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	return eng, w, nil
}

// checkInputFile makes sure path exists and is a regular file.
func checkInputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected an image", path)
	}
	return nil
}
