package evidence

import (
	"bytes"
	"fmt"

	"bitbucket.org/stayshield/disputes_backend/models"
	"github.com/xuri/excelize/v2"
)

const folioContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GenerateFolioXLSX renders the stored folio as a spreadsheet for vendors
// that expose no downloadable documents. The running balance column is
// computed here the same way the reconciliation check computes it.
func GenerateFolioXLSX(res *models.CanonicalReservation, lines []models.FolioLineItem) ([]byte, error) {
	f := excelize.NewFile()
	sheetName := "Sheet1"
	_, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}

	f.SetCellValue(sheetName, "A1", "Guest")
	f.SetCellValue(sheetName, "B1", res.GuestName)
	f.SetCellValue(sheetName, "A2", "Confirmation")
	f.SetCellValue(sheetName, "B2", res.ConfirmationNumber)
	f.SetCellValue(sheetName, "A3", "Room")
	f.SetCellValue(sheetName, "B3", res.RoomNumber)
	f.SetCellValue(sheetName, "A4", "CheckIn")
	f.SetCellValue(sheetName, "B4", res.CheckInDate.Format("2006-01-02"))
	f.SetCellValue(sheetName, "A5", "CheckOut")
	f.SetCellValue(sheetName, "B5", res.CheckOutDate.Format("2006-01-02"))

	headerRow := 7
	f.SetCellValue(sheetName, "A"+fmt.Sprint(headerRow), "PostingDate")
	f.SetCellValue(sheetName, "B"+fmt.Sprint(headerRow), "Category")
	f.SetCellValue(sheetName, "C"+fmt.Sprint(headerRow), "Description")
	f.SetCellValue(sheetName, "D"+fmt.Sprint(headerRow), "Amount")
	f.SetCellValue(sheetName, "E"+fmt.Sprint(headerRow), "RunningBalance")

	for i, line := range models.ComputeRunningBalances(lines) {
		row := fmt.Sprint(headerRow + 1 + i)
		f.SetCellValue(sheetName, "A"+row, line.PostingDate.Format("2006-01-02"))
		f.SetCellValue(sheetName, "B"+row, string(line.Category))
		f.SetCellValue(sheetName, "C"+row, line.Description)
		f.SetCellValue(sheetName, "D"+row, line.Amount.StringFixed(2))
		f.SetCellValue(sheetName, "E"+row, line.RunningBalance.StringFixed(2))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
