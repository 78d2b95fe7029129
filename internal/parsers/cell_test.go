package parsers

import (
	"testing"
	"time"

	"training-reconciliation-service/internal/models"
)

func TestParseCell(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantKind   CellKind
		wantDate   time.Time
		wantStatus models.CellStatus
	}{
		{name: "empty", raw: "", wantKind: CellEmpty},
		{name: "whitespace", raw: "   \t", wantKind: CellEmpty},
		{name: "day month year", raw: "05/03/2024", wantKind: CellDate, wantDate: models.NewDate(2024, time.March, 5)},
		{name: "padded date", raw: " 5/3/2024 ", wantKind: CellDate, wantDate: models.NewDate(2024, time.March, 5)},
		{name: "two digit year", raw: "01/12/23", wantKind: CellDate, wantDate: models.NewDate(2023, time.December, 1)},
		{name: "leap day", raw: "29/02/2024", wantKind: CellDate, wantDate: models.NewDate(2024, time.February, 29)},
		{name: "iso date", raw: "2024-03-05", wantKind: CellDate, wantDate: models.NewDate(2024, time.March, 5)},
		{name: "excel serial", raw: "45352", wantKind: CellDate, wantDate: models.NewDate(2024, time.March, 1)},
		{name: "excel serial with time", raw: "45292.75", wantKind: CellDate, wantDate: models.NewDate(2024, time.January, 1)},
		{name: "booked", raw: "Booked", wantKind: CellStatus, wantStatus: models.CellBooked},
		{name: "awaiting upper", raw: "AWAITING", wantKind: CellStatus, wantStatus: models.CellAwaiting},
		{name: "in progress spaced", raw: "In   Progress", wantKind: CellStatus, wantStatus: models.CellInProgress},
		{name: "not yet due", raw: "Not yet due", wantKind: CellStatus, wantStatus: models.CellNotDueYet},
		{name: "n/a", raw: "N/A", wantKind: CellStatus, wantStatus: models.CellNotApplicable},
		{name: "na alias", raw: "na", wantKind: CellStatus, wantStatus: models.CellNotApplicable},
		{name: "completed", raw: "Completed", wantKind: CellStatus, wantStatus: models.CellCompleted},
		{name: "status beats date", raw: "Booked 12/03/2024", wantKind: CellStatus, wantStatus: models.CellBooked},
		{name: "first token wins", raw: "booked - awaiting confirmation", wantKind: CellStatus, wantStatus: models.CellBooked},
		{name: "no partial word", raw: "overbooked", wantKind: CellEmpty},
		{name: "na inside word is not a status", raw: "banana", wantKind: CellEmpty},
		{name: "free text", raw: "see manager", wantKind: CellEmpty},
		{name: "four part date", raw: "01/02/03/2024", wantKind: CellEmpty},
		{name: "month thirteen", raw: "01/13/2024", wantKind: CellEmpty},
		{name: "three digit year", raw: "01/02/202", wantKind: CellEmpty},
		{name: "negative number", raw: "-5", wantKind: CellEmpty},
		{name: "zero", raw: "0", wantKind: CellEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCell(tt.raw)
			if got.Kind != tt.wantKind {
				t.Fatalf("ParseCell(%q).Kind = %v, want %v", tt.raw, got.Kind, tt.wantKind)
			}
			if tt.wantKind == CellDate && !got.Date.Equal(tt.wantDate) {
				t.Errorf("ParseCell(%q).Date = %v, want %v", tt.raw, got.Date, tt.wantDate)
			}
			if tt.wantKind == CellStatus && got.Status != tt.wantStatus {
				t.Errorf("ParseCell(%q).Status = %v, want %v", tt.raw, got.Status, tt.wantStatus)
			}
		})
	}
}

func TestParseCell_RejectsImpossibleDate(t *testing.T) {
	for _, raw := range []string{"31/02/2024", "31/04/2024", "29/02/2023", "00/01/2024"} {
		if got := ParseCell(raw); got.Kind != CellEmpty {
			t.Errorf("ParseCell(%q) = %v, want empty", raw, got.Kind)
		}
	}
}

func TestCellValue_DatePtr(t *testing.T) {
	if ParseCell("Booked").DatePtr() != nil {
		t.Error("status cell should not carry a date")
	}
	d := ParseCell("05/03/2024").DatePtr()
	if d == nil || !d.Equal(models.NewDate(2024, time.March, 5)) {
		t.Errorf("DatePtr() = %v", d)
	}
}
