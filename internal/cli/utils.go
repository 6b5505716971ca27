// Package cli provides CLI output formatting for Miwake.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/miwake/internal/models"
	"github.com/hyperjump/miwake/pkg/utils"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact is one result per line for piping into cut or awk.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// WriteSearchResults writes a similarity search response to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	case OutputCompact:
		writeSearchResultsCompact(w, response)
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d similar items in %dms (threshold %.2f, snapshot %s)\n\n",
		response.Total, response.QueryTime, response.Threshold, response.SnapshotVersion)
	for _, hit := range response.Results {
		writeOneHit(w, hit)
	}
}

func writeOneHit(w io.Writer, hit *models.SearchHit) {
	item := hit.Item
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", hit.Rank, hit.Score)
	fmt.Fprintf(w, "ID: %d\n", item.ID)
	fmt.Fprintf(w, "Name: %s", item.Name)
	if item.Category != "" {
		fmt.Fprintf(w, " [%s]", item.Category)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Image: %s%s\n", utils.Truncate(item.ImageLocation, 120), imageDetail(item))
	fmt.Fprintln(w)
}

// imageDetail renders " (800x600 png, 45.1 KiB)". Snapshots built before probe
// metadata was recorded render nothing.
func imageDetail(item *models.CatalogItem) string {
	var parts []string
	if item.Width > 0 && item.Height > 0 {
		dims := fmt.Sprintf("%dx%d", item.Width, item.Height)
		if item.Format != "" {
			dims += " " + item.Format
		}
		parts = append(parts, dims)
	}
	if item.FileSize > 0 {
		parts = append(parts, FormatBytes(item.FileSize))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// One hit per line: rank, score, id, category, name, location.
func writeSearchResultsCompact(w io.Writer, response *models.SearchResponse) {
	for _, hit := range response.Results {
		fmt.Fprintf(w, "%d\t%.4f\t%d\t%s\t%s\t%s\n",
			hit.Rank, hit.Score, hit.Item.ID, hit.Item.Category, hit.Item.Name, hit.Item.ImageLocation)
	}
}

// PrintSearchResults prints search results to stdout in text format (backward compatible).
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// FormatBytes renders a byte count in binary units ("45.1 KiB").
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
