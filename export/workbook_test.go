package export_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/fieldops/report-engine/export"
	"github.com/fieldops/report-engine/fieldreport"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func readRows(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	return rows
}

func TestWrite_RowsCarryEachReportsOwnData(t *testing.T) {
	// GIVEN: A synced report imported from another technician and a local draft,
	//        created on different days
	// WHEN: Exporting them
	// THEN: Each row shows its own timestamp and technician, and only the
	//       synced row is marked OK

	imported := fieldreport.Report{
		ID:        "C-0001",
		Status:    fieldreport.StatusSynced,
		Timestamp: time.Date(2026, 1, 5, 8, 30, 0, 0, time.UTC).UnixMilli(),
		Payload: fieldreport.Payload{
			ClientName: "Acme",
			Type:       fieldreport.InterventionEmergency,
			Technician: "Mario",
			Materials: []fieldreport.Material{
				{Name: "Filtro", Qty: 2, Cost: decimal.RequireFromString("12.50")},
			},
		},
	}
	local := fieldreport.Report{
		ID:        "C-0002",
		Status:    fieldreport.StatusDraft,
		Timestamp: time.Date(2026, 2, 7, 16, 45, 10, 0, time.UTC).UnixMilli(),
		Payload:   fieldreport.Payload{ClientName: "Beta"},
	}

	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, []fieldreport.Report{imported, local}, "Ada", time.UTC))

	rows := readRows(t, &buf)
	require.Len(t, rows, 3)

	header := rows[0]
	require.Len(t, header, len(fieldreport.SheetColumns)+2)
	assert.Equal(t, "Timestamp", header[0])
	assert.Equal(t, "ID", header[14])
	assert.Equal(t, "Status", header[16])
	assert.Equal(t, "Stato Locale", header[17])
	assert.Equal(t, "Costo Materiali", header[18])

	first := rows[1]
	assert.Equal(t, "05/01/2026, 08:30:00", first[0])
	assert.Equal(t, "Mario", first[1])
	assert.Equal(t, "Acme", first[2])
	assert.Equal(t, "Emergency", first[7])
	assert.Equal(t, "2x Filtro", first[11])
	assert.Equal(t, "C-0001", first[14])
	assert.Equal(t, "OK", first[16])
	assert.Equal(t, "synced", first[17])
	assert.Equal(t, "25", first[18])

	second := rows[2]
	assert.Equal(t, "07/02/2026, 16:45:10", second[0])
	assert.Equal(t, "Ada", second[1])
	assert.Equal(t, "C-0002", second[14])
	assert.Empty(t, second[16])
	assert.Equal(t, "draft", second[17])
}

func TestWrite_SyncedWithoutTechnicianOrTimestamp(t *testing.T) {
	// Remote history rows may lack both; the export leaves them blank
	// rather than guessing.
	report := fieldreport.Report{ID: "C-0003", Status: fieldreport.StatusSynced}

	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, []fieldreport.Report{report}, "Ada", time.UTC))

	rows := readRows(t, &buf)
	require.Len(t, rows, 2)
	assert.Empty(t, rows[1][0])
	assert.Empty(t, rows[1][1])
	assert.Equal(t, "C-0003", rows[1][14])
}

func TestWrite_TimestampInLocation(t *testing.T) {
	rome := time.FixedZone("CET", 60*60)

	report := fieldreport.Report{
		ID:        "C-0001",
		Status:    fieldreport.StatusSynced,
		Timestamp: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC).UnixMilli(),
	}

	var buf bytes.Buffer
	require.NoError(t, export.Write(&buf, []fieldreport.Report{report}, "", rome))

	rows := readRows(t, &buf)
	assert.Equal(t, "10/03/2026, 09:00:00", rows[1][0])
}

func TestBuild_EmptyCollection(t *testing.T) {
	f, err := export.Build(nil, "Ada", nil)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1, "header only")
}
