package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/facelabel/internal/store"
	"github.com/andresmejia3/facelabel/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB     bool
	resetFiles  bool
	resetYes    bool
	resetOutDir string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Gallery table, Labeled output)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}
		return runReset(cmd.Context(), os.Stdin)
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Drop the PostgreSQL gallery table")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete the labeled output directory")
	resetCmd.Flags().StringVarP(&resetOutDir, "output-dir", "o", defaultOutputDir, "Labeled output directory to delete")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(ctx context.Context, in io.Reader) error {
	reader := bufio.NewReader(in)

	if resetDB {
		if !store.IsURL(cfg.Gallery) {
			// Gallery files are user data; they are never deleted here
			fmt.Printf("ℹ️  Gallery %s is a file, skipping database reset.\n", cfg.Gallery)
		} else if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP the gallery table?") {
			fmt.Println("🗑️  Clearing Database...")
			db, err := store.New(ctx, cfg.Gallery)
			if err != nil {
				utils.ShowError("Failed to connect to database", err, nil)
				return err
			}
			defer db.Close(context.Background())
			if err := db.Reset(ctx); err != nil {
				utils.ShowError("Failed to reset database", err, nil)
				return err
			}
		}
	}

	if resetFiles {
		if resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete %s?", resetOutDir)) {
			fmt.Println("🗑️  Clearing Labeled Output...")
			removeDir(resetOutDir)
		}
	}

	fmt.Println("✨ System Reset Complete.")
	return nil
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
