package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// FileRow is one line of a file listing.
type FileRow struct {
	Name string
	Size int64
	Type string
}

func styledTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

// FileTable lists files with their sizes and types.
func FileTable(files []FileRow) string {
	if len(files) == 0 {
		return MutedStyle.Render("No files")
	}

	rows := make([][]string, 0, len(files))
	for i, f := range files {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			Truncate(f.Name, 50),
			FormatBytes(f.Size),
			Truncate(f.Type, 24),
		})
	}
	return styledTable([]string{"#", "Name", "Size", "Type"}, rows)
}

// Summary describes a finished transfer.
type Summary struct {
	Status   string
	Files    int
	Bytes    int64
	Duration time.Duration
}

func SummaryTable(s Summary) string {
	var speed float64
	if s.Duration > 0 {
		speed = float64(s.Bytes) / s.Duration.Seconds()
	}
	return styledTable([]string{"Metric", "Value"}, [][]string{
		{"Status", s.Status},
		{"Files", fmt.Sprintf("%d", s.Files)},
		{"Total Size", FormatBytes(s.Bytes)},
		{"Duration", FormatDuration(s.Duration)},
		{"Avg Speed", FormatSpeed(speed)},
	})
}

// RoomBox shows the room code and share link a sender hands to the peer.
func RoomBox(roomID, link string) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:    %s\n%s Room Link:  %s\n\n%s End-to-end encrypted",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(roomID),
		IconWeb, MutedStyle.Render(link),
		IconLock,
	)
	return box.Render(content)
}
