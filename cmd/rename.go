package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facelabel/internal/gallery"
	"github.com/andresmejia3/facelabel/internal/store"
	"github.com/andresmejia3/facelabel/internal/types"
	"github.com/andresmejia3/facelabel/internal/utils"
	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename <old_label> <new_label>",
	Short: "Assign a new label to every gallery entry carrying the old one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRename(cmd.Context(), cfg.Gallery, args[0], args[1])
	},
}

func init() {
	galleryCmd.AddCommand(renameCmd)
}

func runRename(ctx context.Context, location, oldLabel, newLabel string) error {
	if newLabel == "" || newLabel == types.Undetected {
		err := fmt.Errorf("label %q is reserved or empty", newLabel)
		utils.ShowError("Invalid label", err, nil)
		return err
	}

	var n int64
	if store.IsURL(location) {
		db, err := store.New(ctx, location)
		if err != nil {
			utils.ShowError("Failed to connect to database", err, nil)
			return err
		}
		defer db.Close(context.Background())

		if n, err = db.RenameLabel(ctx, oldLabel, newLabel); err != nil {
			utils.ShowError("Failed to rename label", err, nil)
			return err
		}
	} else {
		entries, err := gallery.ReadEntries(location)
		if err != nil {
			utils.ShowError("Failed to load gallery", err, nil)
			return err
		}
		n = int64(renameEntries(entries, oldLabel, newLabel))
		if n > 0 {
			if err := gallery.WriteFile(location, entries); err != nil {
				utils.ShowError("Failed to save gallery", err, nil)
				return err
			}
		}
	}

	if n == 0 {
		fmt.Printf("❌ No gallery entries labeled '%s'\n", oldLabel)
		return nil
	}
	fmt.Printf("✅ Relabeled %d entries from '%s' to '%s'\n", n, oldLabel, newLabel)
	return nil
}

// renameEntries relabels matching entries in place and returns how many changed.
func renameEntries(entries []types.GalleryEntry, oldLabel, newLabel string) int {
	n := 0
	for i := range entries {
		if entries[i].Label == oldLabel {
			entries[i].Label = newLabel
			n++
		}
	}
	return n
}
