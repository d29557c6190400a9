package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
	"github.com/maltedev/yellowpages-scraper/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatTable Format = "table"
)

var csvHeader = []string{"page", "name", "phone", "address", "locality"}

// FormatFor picks the export format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".txt":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output extension %q", filepath.Ext(path))
	}
}

// Save writes result to path atomically, in the format implied by the
// extension.
func Save(path string, result *models.SearchResult) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := Write(&buf, format, result); err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpFile, err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename %s: %w", tmpFile, err)
	}
	return nil
}

func Write(w io.Writer, format Format, result *models.SearchResult) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatCSV:
		return writeCSV(w, result.Listings)
	case FormatTable:
		writeTable(w, result.Listings)
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// Load reads a JSON export back.
func Load(path string) (*models.SearchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var result models.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &result, nil
}

func writeJSON(w io.Writer, result *models.SearchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// writeCSV leaves absent fields as empty cells.
func writeCSV(w io.Writer, listings []models.Listing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, l := range listings {
		record := []string{
			strconv.Itoa(l.Page),
			models.Value(l.Name),
			models.Value(l.Phone),
			models.Value(l.Address),
			models.Value(l.Locality),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeTable(w io.Writer, listings []models.Listing) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Name", "Phone", "Address", "Locality"})

	for i, l := range listings {
		t.AppendRow(table.Row{i + 1, cell(l.Name), cell(l.Phone), cell(l.Address), cell(l.Locality)})
	}

	t.AppendFooter(table.Row{"", fmt.Sprintf("%d listings", len(listings))})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func cell(p *string) string {
	if p == nil {
		return "-"
	}
	return *p
}
