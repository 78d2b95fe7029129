package parsers

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"

	"training-reconciliation-service/internal/models"
)

// CellKind classifies a parsed cell
type CellKind int

const (
	CellEmpty CellKind = iota
	CellDate
	CellStatus
)

// String returns the string representation of CellKind
func (k CellKind) String() string {
	switch k {
	case CellDate:
		return "date"
	case CellStatus:
		return "status"
	default:
		return "empty"
	}
}

// CellValue is the typed content of one source cell
type CellValue struct {
	Kind   CellKind
	Date   time.Time
	Status models.CellStatus
}

// DatePtr returns the date of a date cell and nil otherwise
func (v CellValue) DatePtr() *time.Time {
	if v.Kind != CellDate {
		return nil
	}
	d := v.Date
	return &d
}

type statusToken struct {
	token  string
	status models.CellStatus
}

// statusTokens is matched in order on word boundaries; the first hit wins.
var statusTokens = []statusToken{
	{"booked", models.CellBooked},
	{"awaiting", models.CellAwaiting},
	{"in progress", models.CellInProgress},
	{"not yet due", models.CellNotDueYet},
	{"n/a", models.CellNotApplicable},
	{"completed", models.CellCompleted},
	{"not due yet", models.CellNotDueYet},
	{"not applicable", models.CellNotApplicable},
}

// statusAliases are only recognised as the whole cell
var statusAliases = map[string]models.CellStatus{
	"na":          models.CellNotApplicable,
	"n.a.":        models.CellNotApplicable,
	"in-progress": models.CellInProgress,
	"inprogress":  models.CellInProgress,
	"not due":     models.CellNotDueYet,
	"complete":    models.CellCompleted,
	"passed":      models.CellCompleted,
	"await":       models.CellAwaiting,
}

// ParseCell classifies a raw cell as a status token, a date or empty.
// A cell holding both a status word and a date is a status.
func ParseCell(raw string) CellValue {
	s := strings.TrimSpace(raw)
	if s == "" {
		return CellValue{Kind: CellEmpty}
	}

	if status, ok := matchStatus(s); ok {
		return CellValue{Kind: CellStatus, Status: status}
	}
	if d, ok := parseDayMonthYear(s); ok {
		return CellValue{Kind: CellDate, Date: d}
	}
	if d, err := models.ParseDate(s); err == nil {
		return CellValue{Kind: CellDate, Date: d}
	}
	if d, ok := parseSerialDate(s); ok {
		return CellValue{Kind: CellDate, Date: d}
	}
	return CellValue{Kind: CellEmpty}
}

func matchStatus(s string) (models.CellStatus, bool) {
	normalized := collapseSpaces(strings.ToLower(s))
	if status, ok := statusAliases[normalized]; ok {
		return status, true
	}
	for _, t := range statusTokens {
		if containsWord(normalized, t.token) {
			return t.status, true
		}
	}
	return "", false
}

// containsWord reports whether token occurs in s with no letter or digit
// directly before or after it
func containsWord(s, token string) bool {
	for offset := 0; offset <= len(s)-len(token); {
		idx := strings.Index(s[offset:], token)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(token)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(s[i-1])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// parseDayMonthYear parses DD/MM/YYYY and DD/MM/YY, rejecting dates that
// do not exist such as 31/02/2024
func parseDayMonthYear(s string) (time.Time, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}

	nums := make([]int, 3)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || !isDigits(p) {
			return time.Time{}, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}

	day, month, year := nums[0], nums[1], nums[2]
	switch yearDigits := len(strings.TrimSpace(parts[2])); yearDigits {
	case 2:
		year += 2000
	case 4:
	default:
		return time.Time{}, false
	}

	d := models.NewDate(year, time.Month(month), day)
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}
	return d, true
}

// parseSerialDate converts a spreadsheet serial day number
func parseSerialDate(s string) (time.Time, bool) {
	if !isNumeric(s) {
		return time.Time{}, false
	}
	serial, err := strconv.ParseFloat(s, 64)
	if err != nil || serial <= 0 {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return models.DateOf(t), true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isNumeric(s string) bool {
	whole, frac, hasDot := strings.Cut(s, ".")
	if !isDigits(whole) {
		return false
	}
	return !hasDot || isDigits(frac)
}
