package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/gramaudit/internal/models"
)

// Export file names, loadable by embedding projector tools.
const (
	Embeddings2DFile = "embeddings_2d.tsv"
	Embeddings3DFile = "embeddings_3d.tsv"
	MetadataFile     = "metadata.tsv"
)

var tsvEscaper = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// Exportable reports whether r has both projections and can be written to every export file.
func Exportable(r *models.EmbeddingRecord) bool {
	return len(r.Projected2D) == 2 && len(r.Projected3D) == 3
}

// WriteTSV writes row-aligned 2D, 3D and metadata TSV streams for records that have both
// projections. Row i of each stream describes the same value. It returns the rows written.
func WriteTSV(w2d, w3d, meta io.Writer, records []*models.EmbeddingRecord) (int, error) {
	b2 := bufio.NewWriter(w2d)
	b3 := bufio.NewWriter(w3d)
	bm := bufio.NewWriter(meta)
	if _, err := bm.WriteString("value\tsource\tusage_count\n"); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range records {
		if !Exportable(r) {
			continue
		}
		if _, err := fmt.Fprintf(b2, "%s\t%s\n", coord(r.Projected2D[0]), coord(r.Projected2D[1])); err != nil {
			return n, err
		}
		if _, err := fmt.Fprintf(b3, "%s\t%s\t%s\n",
			coord(r.Projected3D[0]), coord(r.Projected3D[1]), coord(r.Projected3D[2])); err != nil {
			return n, err
		}
		if _, err := fmt.Fprintf(bm, "%s\t%s\t%d\n",
			tsvEscaper.Replace(r.RawValue), tsvEscaper.Replace(r.Source), r.UsageCount); err != nil {
			return n, err
		}
		n++
	}
	for _, b := range []*bufio.Writer{b2, b3, bm} {
		if err := b.Flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func coord(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// ExportTSV creates dir and writes the three export files into it.
func ExportTSV(dir string, records []*models.EmbeddingRecord) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	var files []*os.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, name := range []string{Embeddings2DFile, Embeddings3DFile, MetadataFile} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return 0, fmt.Errorf("create %s: %w", name, err)
		}
		files = append(files, f)
	}
	n, err := WriteTSV(files[0], files[1], files[2], records)
	if err != nil {
		return n, fmt.Errorf("write export: %w", err)
	}
	for _, f := range files {
		if err := f.Sync(); err != nil {
			return n, err
		}
	}
	return n, nil
}
