package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facelabel/internal/gallery"
	"github.com/andresmejia3/facelabel/internal/store"
	"github.com/andresmejia3/facelabel/internal/utils"
	"github.com/spf13/cobra"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect and maintain the gallery of known faces",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known faces in the gallery",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context(), cfg.Gallery)
	},
}

func init() {
	galleryCmd.AddCommand(listCmd)
	rootCmd.AddCommand(galleryCmd)
}

func runList(ctx context.Context, location string) error {
	if store.IsURL(location) {
		db, err := store.New(ctx, location)
		if err != nil {
			utils.ShowError("Failed to connect to database", err, nil)
			return err
		}
		defer db.Close(context.Background())

		entries, err := db.ListEntries(ctx)
		if err != nil {
			utils.ShowError("Failed to list gallery", err, nil)
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No faces found in gallery.")
			return nil
		}
		writeStoreTable(os.Stdout, entries)
		return nil
	}

	g, err := gallery.LoadFile(location)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}
	writeGalleryTable(os.Stdout, g)
	fmt.Printf("\n%d entries, %d identities, %d-dimensional embeddings\n", g.Len(), len(g.Labels()), g.Dim())
	return nil
}

func writeGalleryTable(out io.Writer, g *gallery.Gallery) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tLABEL\tDIM")
	fmt.Fprintln(w, "-\t-----\t---")

	for i, e := range g.Entries() {
		fmt.Fprintf(w, "%d\t%s\t%d\n", i, e.Label, len(e.Embedding))
	}
	w.Flush()
}

func writeStoreTable(out io.Writer, entries []store.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tDIM\tCREATED")
	fmt.Fprintln(w, "--\t-----\t---\t-------")

	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", e.ID, e.Label, len(e.Embedding), e.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
