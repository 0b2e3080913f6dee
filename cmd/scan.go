package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/andresmejia3/facelabel/internal/face"
	"github.com/andresmejia3/facelabel/internal/gallery"
	"github.com/andresmejia3/facelabel/internal/log"
	"github.com/andresmejia3/facelabel/internal/types"
	"github.com/andresmejia3/facelabel/internal/utils"
	"github.com/andresmejia3/facelabel/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const defaultOutputDir = "labeled"

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:   "scan <directory>",
	Short: "Label every image in a directory with parallel engines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		scanOpts.InputPath = args[0]
		applyConfig(cmd, &scanOpts)
		return runScan(cmd.Context(), scanOpts)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.OutputDir, "output-dir", "o", defaultOutputDir, "Directory for labeled PNGs (mirrors the input tree)")
	scanCmd.Flags().IntVarP(&scanOpts.NumEngines, "engines", "e", 1, "Number of parallel engine workers")
	addMatchFlags(scanCmd, &scanOpts)
	rootCmd.AddCommand(scanCmd)
}

// runScan orchestrates the batch: gallery, worker pool, ordered aggregation and progress tracking.
func runScan(ctx context.Context, opts Options) error {
	if err := validateScanFlags(&opts); err != nil {
		utils.ShowError("Invalid scan options", err, nil)
		return err
	}

	paths, err := utils.ListImages(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to list images", err, nil)
		return err
	}
	// Never re-label our own output when it lives inside the input tree
	paths = excludeDir(paths, opts.OutputDir)
	if len(paths) == 0 {
		fmt.Println("❌ No images found in", opts.InputPath)
		return nil
	}

	g, err := loadGallery(ctx, cfg.Gallery)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}

	runID := uuid.New().String()
	log.Info(log.Fields{"run": runID, "images": len(paths), "engines": opts.NumEngines, "gallery": g.Len()}, "scan started")
	fmt.Fprintf(os.Stderr, "📂 Scan %s: %d image(s) in %s\n", runID[:8], len(paths), opts.InputPath)
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", opts.NumEngines)

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🔍 Labeling"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	taskChan := make(chan types.ImageTask, opts.NumEngines)
	resultsChan := make(chan scanResult, opts.NumEngines*2)
	var wg sync.WaitGroup

	// Start Aggregator (Consumer)
	// Must run concurrently to prevent deadlock on resultsChan
	var summary *scanSummary
	aggDone := make(chan struct{})
	go func() {
		summary = collectResults(resultsChan, func() { bar.Add(1) })
		close(aggDone)
	}()

	// Spawn the Engine Pool
	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			startWorker(ctx, workerID, g, opts, taskChan, resultsChan)
		}(i)
	}

feed:
	for i, p := range paths {
		select {
		case taskChan <- types.ImageTask{Index: i, Path: p}:
		case <-ctx.Done():
			break feed
		}
	}

	close(taskChan)
	wg.Wait()
	close(resultsChan)

	// Wait for aggregator to finish processing
	<-aggDone

	bar.Finish()
	summary.Print(os.Stderr, runID)
	log.Info(log.Fields{"run": runID, "faces": summary.Faces, "failed": summary.Failed}, "scan finished")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}
	return nil
}

// scanResult wraps the output from a worker to be sent to the aggregator
type scanResult struct {
	Index   int
	Path    string
	Output  string
	Results []face.Result
	Err     error
}

// startWorker manages the lifecycle of a single engine process.
// It reads tasks from the channel, labels each image and reports back to the aggregator.
func startWorker(ctx context.Context, id int, g *gallery.Gallery, opts Options, tasks <-chan types.ImageTask, results chan<- scanResult) {
	eng, w, err := openEngine(ctx, id, g, opts)
	if err != nil {
		utils.Die("Worker startup failed", err, nil)
	}
	defer w.Close()

	for task := range tasks {
		res := scanResult{Index: task.Index, Path: task.Path}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			results <- res
			continue
		}

		img, err := utils.DecodeImage(task.Path)
		if err != nil {
			res.Err = err
			results <- res
			continue
		}

		canvas, faces, err := eng.AddLabelsToImage(ctx, img)
		if err != nil {
			// The engine rejected this image but is still healthy
			if errors.Is(err, worker.ErrEngine) || ctx.Err() != nil {
				res.Err = err
				results <- res
				continue
			}
			log.Error(log.Fields{"worker": id, "image": task.Path, "error": err}, "engine crashed")
			// DRAIN: Wait for process to exit and capture final stderr logs
			w.Close()
			utils.Die("Python crashed", err, w.Cmd)
		}

		res.Output = outputPathFor(opts.InputPath, task.Path, opts.OutputDir)
		if err := os.MkdirAll(filepath.Dir(res.Output), 0755); err != nil {
			res.Err = err
		} else if err := canvas.SavePNG(res.Output); err != nil {
			res.Err = fmt.Errorf("failed to write %s: %w", res.Output, err)
		}
		res.Results = faces
		results <- res
	}
}

// --- Aggregation ---

// scanSummary accumulates results in input order.
type scanSummary struct {
	Images   int
	Faces    int
	Unknown  int
	Failed   int
	Seen     map[string][]string // label -> images it appeared in
	Failures []scanResult
}

func newScanSummary() *scanSummary {
	return &scanSummary{Seen: make(map[string][]string)}
}

func (s *scanSummary) add(r scanResult) {
	s.Images++
	if r.Err != nil {
		log.Warn(log.Fields{"image": r.Path, "error": r.Err}, "image failed")
		s.Failed++
		s.Failures = append(s.Failures, r)
		return
	}
	for _, f := range r.Results {
		s.Faces++
		if !f.Known() {
			s.Unknown++
			continue
		}
		seen := s.Seen[f.Label]
		// Count an image once even if the label matched twice in it
		if len(seen) == 0 || seen[len(seen)-1] != r.Path {
			s.Seen[f.Label] = append(seen, r.Path)
		}
	}
}

// collectResults re-orders results by task index (worker 2 might finish before worker 1)
// and folds them into a summary. onResult is called once per received result.
func collectResults(results <-chan scanResult, onResult func()) *scanSummary {
	buffer := make(map[int]scanResult)
	next := 0
	summary := newScanSummary()

	for res := range results {
		if onResult != nil {
			onResult()
		}
		buffer[res.Index] = res

		// Process images in strict order
		for {
			r, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			summary.add(r)
			next++
		}
	}

	// An interrupted scan can leave gaps; keep what arrived, still in order
	if len(buffer) > 0 {
		var rest []int
		for idx := range buffer {
			rest = append(rest, idx)
		}
		sort.Ints(rest)
		for _, idx := range rest {
			summary.add(buffer[idx])
		}
	}
	return summary
}

// Print writes the end-of-scan report.
func (s *scanSummary) Print(w io.Writer, runID string) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 SCAN SUMMARY (%s)\n", runID)
	fmt.Fprintf(w, "---------------------------------------------------------\n")

	labels := make([]string, 0, len(s.Seen))
	for label := range s.Seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		fmt.Fprintf(w, "\n👤 %s: %d image(s)\n", label, len(s.Seen[label]))
		for _, p := range s.Seen[label] {
			fmt.Fprintf(w, "   %s\n", p)
		}
	}

	if len(s.Failures) > 0 {
		fmt.Fprintf(w, "\n⚠️  Failed images:\n")
		for _, f := range s.Failures {
			fmt.Fprintf(w, "   %s: %v\n", f.Path, f.Err)
		}
	}

	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🖼️  Images Processed:        %d (%d failed)\n", s.Images, s.Failed)
	fmt.Fprintf(w, "👁️  Total Faces Labeled:     %d\n", s.Faces)
	fmt.Fprintf(w, "❓ Undetected Faces:        %d\n", s.Unknown)
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// outputPathFor mirrors the input tree under outDir:
// photos/2024/team.jpg scanned from photos -> <outDir>/2024/team_jpg_labeled.png
func outputPathFor(root, path, outDir string) string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = ""
	}
	return utils.DistinctLabeledPath(path, filepath.Join(outDir, rel))
}

// excludeDir drops every path located under dir.
func excludeDir(paths []string, dir string) []string {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return paths
	}
	kept := paths[:0]
	for _, p := range paths {
		absP, err := filepath.Abs(p)
		if err == nil && strings.HasPrefix(absP, absDir+string(filepath.Separator)) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input directory does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path %s is a file, expected a directory", opts.InputPath)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.OutputDir == "" {
		opts.OutputDir = defaultOutputDir
	}
	return validateOptions(opts)
}
