package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/filehandler"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// WriteReport prints a human-readable analysis report. meta may be nil.
func WriteReport(w io.Writer, fileName string, meta *filehandler.ImageMetadata, result *chat.AnalysisResult) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\n== %s ==\n", fileName)

	if meta != nil {
		b.WriteString("\nMétadonnées\n")
		writeField(&b, "Appareil", strings.TrimSpace(meta.Make+" "+meta.Model))
		writeField(&b, "Focale", meta.FocalLength)
		writeField(&b, "Ouverture", meta.FNumber)
		writeField(&b, "ISO", meta.ISO)
		writeField(&b, "Exposition", meta.ExposureTime)
		if meta.GPS != nil {
			writeField(&b, "GPS", meta.GPS.Latitude+", "+meta.GPS.Longitude)
		}
	}

	if result != nil {
		if loc := result.Location; loc != nil {
			b.WriteString("\nLieu\n")
			writeField(&b, "Ville", loc.City)
			writeField(&b, "Région", loc.Region)
			writeField(&b, "Pays", loc.Country)
		}

		writeList(&b, "Titres", result.Titles)
		writeList(&b, "Légendes", result.Captions)

		b.WriteString("\nExtraits\n")
		for _, e := range result.Excerpts {
			fmt.Fprintf(&b, "  « %s »\n    %s, %s\n", e.Excerpt, e.Author, e.Work)
			if e.Translation != "" {
				fmt.Fprintf(&b, "    Traduction : %s\n", e.Translation)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "  %-11s %s\n", label+" :", value)
}

func writeList(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "\n%s\n", title)
	for i, item := range items {
		fmt.Fprintf(b, "  %d. %s\n", i+1, item)
	}
}
