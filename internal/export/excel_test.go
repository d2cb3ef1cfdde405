package export

import (
	"bytes"
	"testing"
	"time"

	"movingmen/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestBookingsFile(t *testing.T) {
	loc := time.FixedZone("AEST", 10*60*60)
	b := models.Booking{
		PONumber: "E000001",
		Name:     "Jane",
		Phone:    "0412345678",
		Date:     time.Date(2025, 3, 12, 0, 0, 0, 0, loc),
		Service:  models.SmallTruck1Man,
		EventID:  "ev1",
	}
	b.SetStart(9)

	data, err := BookingsFile([]models.Booking{b})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.Columns, rows[0])
	assert.Equal(t, "E000001", rows[1][0])
	assert.Equal(t, "0412345678", rows[1][2])
	assert.Equal(t, "2025-03-12", rows[1][5])
	assert.Equal(t, "09:00:00", rows[1][6])
	assert.Equal(t, "13:00:00", rows[1][7])
	assert.Equal(t, "ev1", rows[1][10])
}

func TestBookingsFile_Empty(t *testing.T) {
	data, err := BookingsFile(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
