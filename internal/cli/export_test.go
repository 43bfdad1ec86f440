package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/gramaudit/internal/models"
)

func exportRecords() []*models.EmbeddingRecord {
	return []*models.EmbeddingRecord{
		{RawValue: "Bluetooth", Source: "attribute", UsageCount: 3,
			Projected2D: models.Coordinates{0.5, -1.25}, Projected3D: models.Coordinates{1, 2, 3}},
		{RawValue: "No projection", Source: "option", UsageCount: 1},
		{RawValue: "Tab\there\nnewline", Source: "form", UsageCount: 2,
			Projected2D: models.Coordinates{0.1234567, 0}, Projected3D: models.Coordinates{0, 0, 0}},
	}
}

func TestWriteTSV(t *testing.T) {
	var b2, b3, meta bytes.Buffer
	n, err := WriteTSV(&b2, &b3, &meta, exportRecords())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rows: got %d, want 2", n)
	}
	if want := "0.500000\t-1.250000\n0.123457\t0.000000\n"; b2.String() != want {
		t.Errorf("2d:\n%q\nwant\n%q", b2.String(), want)
	}
	if lines := strings.Split(strings.TrimSpace(b3.String()), "\n"); len(lines) != 2 || lines[0] != "1.000000\t2.000000\t3.000000" {
		t.Errorf("3d: %q", b3.String())
	}
	want := "value\tsource\tusage_count\nBluetooth\tattribute\t3\nTab here newline\tform\t2\n"
	if meta.String() != want {
		t.Errorf("metadata:\n%q\nwant\n%q", meta.String(), want)
	}
}

func TestExportTSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "export")
	n, err := ExportTSV(dir, exportRecords())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows: %d", n)
	}
	for _, name := range []string{Embeddings2DFile, Embeddings3DFile, MetadataFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(data) == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestExportable(t *testing.T) {
	if Exportable(&models.EmbeddingRecord{Projected2D: models.Coordinates{1, 2}}) {
		t.Error("record without 3D projection should not be exportable")
	}
}
