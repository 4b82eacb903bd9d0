package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

// GetSystemStatus renders a human-readable snapshot of machines, needs and
// stations. The layout is not meant to be parsed.
func (c *Controller) GetSystemStatus() string {
	machines := c.machines.List()
	entries := c.needs.Snapshot()
	stations := c.dispatcher.Stations()

	byStatus := make(map[models.Status]int)
	for _, m := range machines {
		byStatus[m.Status]++
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "machines: %d (running %d, stopped %d, failed %d, maintenance %d)\n",
		len(machines),
		byStatus[models.StatusRunning],
		byStatus[models.StatusStopped],
		byStatus[models.StatusFailed],
		byStatus[models.StatusMaintenance])
	fmt.Fprintf(&sb, "stations: %d\n", len(stations))

	if len(machines) > 0 {
		rows := make([][]string, 0, len(machines))
		for _, m := range machines {
			rows = append(rows, []string{m.ID, m.Type, m.Status.String(), strconv.FormatInt(m.ProducedCount, 10), m.LastError})
		}
		sb.WriteString(plainTable([]string{"MACHINE", "TYPE", "STATUS", "PRODUCED", "LAST ERROR"}, rows))
		sb.WriteString("\n")
	}
	if len(entries) > 0 {
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Type, strconv.Itoa(e.Level) + "%", e.Class})
		}
		sb.WriteString(plainTable([]string{"TYPE", "LEVEL", "NEED"}, rows))
		sb.WriteString("\n")
	}
	if len(stations) > 0 {
		sb.WriteString("station order: " + strings.Join(stations, ", ") + "\n")
	}
	return sb.String()
}

// plainTable renders without colors; the snapshot travels over RPC.
func plainTable(headers []string, rows [][]string) string {
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style { return cell }).
		Headers(headers...).
		Rows(rows...).
		String()
}
