package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"sagerspace-tracker/internal/models"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Active Tracks"

type exportColumn struct {
	title string
	width float64
	value func(models.TrackSummary) any
}

var exportColumns = []exportColumn{
	{"Registration", 16, func(t models.TrackSummary) any { return t.TrackID }},
	{"Serial", 18, func(t models.TrackSummary) any { return t.Serial }},
	{"Name", 20, func(t models.TrackSummary) any { return t.DisplayName }},
	{"Pilot", 18, func(t models.TrackSummary) any { return t.OperatorName }},
	{"Organization", 22, func(t models.TrackSummary) any { return t.OrganizationName }},
	{"Category", 12, func(t models.TrackSummary) any { return string(t.Category) }},
	{"Latitude", 12, func(t models.TrackSummary) any { return t.Position.Lat }},
	{"Longitude", 12, func(t models.TrackSummary) any { return t.Position.Lng }},
	{"Altitude (m)", 12, func(t models.TrackSummary) any { return t.AltitudeMeters }},
	{"Heading", 10, func(t models.TrackSummary) any { return t.HeadingDegrees }},
	{"Points", 8, func(t models.TrackSummary) any { return t.HistoryLength }},
	{"First Seen", 22, func(t models.TrackSummary) any { return formatEpochMs(t.FirstSeenAt) }},
	{"Last Updated", 22, func(t models.TrackSummary) any { return formatEpochMs(t.LastUpdatedAt) }},
}

// ExportActiveTracks 生成在飞航迹 Excel 文件（首行表头冻结）
func ExportActiveTracks(tracks []models.TrackSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream writer: %w", err)
	}
	// 列宽与冻结需在写行之前设置
	for i, col := range exportColumns {
		if err := sw.SetColWidth(i+1, i+1, col.width); err != nil {
			return nil, fmt.Errorf("failed to set width of %s: %w", col.title, err)
		}
	}
	if err := sw.SetPanes(&excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	header := make([]any, len(exportColumns))
	for i, col := range exportColumns {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: col.title}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for r, t := range tracks {
		row := make([]any, len(exportColumns))
		for i, col := range exportColumns {
			row[i] = col.value(t)
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := sw.SetRow(cell, row); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", t.TrackID, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush sheet: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func formatEpochMs(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
