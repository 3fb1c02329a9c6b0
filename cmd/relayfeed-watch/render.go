package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/olekukonko/tablewriter"
)

const contentPreviewLimit = 60

func renderEntries(out io.Writer, entries []timeline.Entry) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Kind", "Visibility", "Author", "Updated", "Items", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	for _, entry := range entries {
		table.Append([]string{
			entry.ID,
			string(entry.Kind),
			string(entry.Visibility),
			entry.Author,
			entry.UpdatedAt.UTC().Format(time.RFC3339),
			itemProgress(entry),
			preview(entry.Content),
		})
	}
	table.Render()
}

func formatEntryLine(entry timeline.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s/%s]", entry.ID, entry.Kind, entry.Visibility)
	if entry.State != "" && entry.State != timeline.StateConfirmed {
		fmt.Fprintf(&b, " (%s)", entry.State)
	}
	if entry.Author != "" {
		fmt.Fprintf(&b, " %s:", entry.Author)
	}
	b.WriteString(" ")
	b.WriteString(preview(entry.Content))
	if len(entry.SubItems) > 0 {
		fmt.Fprintf(&b, " [%s]", itemProgress(entry))
	}
	return b.String()
}

func itemProgress(entry timeline.Entry) string {
	if len(entry.SubItems) == 0 {
		return "-"
	}
	done := 0
	for _, item := range entry.SubItems {
		if item.Completed {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(entry.SubItems))
}

func preview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= contentPreviewLimit {
		return content
	}
	return string(runes[:contentPreviewLimit-3]) + "..."
}
