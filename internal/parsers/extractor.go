// Package parsers turns exported training matrices into typed records.
//
// A matrix is a loosely structured table: a few title rows, a header row whose
// first cell names the staff column, an optional row describing how long each
// course stays valid, then one row per staff member with divider rows between
// teams. The Extractor locates that region, ParseCell classifies each cell and
// ParseExpiryDescription reads the validity row. The Loader reads CSV and XLSX
// exports from any afero filesystem.
package parsers

import (
	"strings"

	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

// Column is one course column of an extracted table
type Column struct {
	Index             int    `json:"index"`
	Name              string `json:"name"`
	ExpiryDescription string `json:"expiry_description,omitempty"`
}

// Table is the data region extracted from one source table
type Table struct {
	Name      string                `json:"name"`
	Location  string                `json:"location,omitempty"`
	HeaderRow int                   `json:"header_row"`
	ExpiryRow int                   `json:"expiry_row"`
	Columns   []Column              `json:"columns"`
	Records   []models.SourceRecord `json:"records"`
	StaffRows int                   `json:"staff_rows"`
}

// HasExpiryRow reports whether the table carried an expiry-policy row
func (t *Table) HasExpiryRow() bool {
	return t.ExpiryRow >= 0
}

// Extractor locates the header, expiry-policy row and staff rows of a table
type Extractor struct {
	config       *ExtractorConfig
	headerLabels map[string]bool
	dividers     map[string]bool
	logger       logger.Logger
}

// NewExtractor creates an extractor. A nil config uses DefaultExtractorConfig.
func NewExtractor(config *ExtractorConfig, log logger.Logger) (*Extractor, error) {
	if config == nil {
		config = DefaultExtractorConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extractor", config, err)
	}

	e := &Extractor{
		config:       config,
		headerLabels: make(map[string]bool, len(config.HeaderLabels)),
		dividers:     make(map[string]bool, len(config.DividerMarkers)),
		logger:       logger.OrGlobal(log, "extractor"),
	}
	for _, label := range config.HeaderLabels {
		e.headerLabels[normalizeLabel(label)] = true
	}
	for _, marker := range config.DividerMarkers {
		e.dividers[normalizeLabel(marker)] = true
	}
	return e, nil
}

// Extract finds the data region of rows and returns its course columns and
// one SourceRecord per non-empty course cell. name identifies the table in
// errors and logs.
func (e *Extractor) Extract(name string, rows [][]string) (*Table, error) {
	if len(rows) < e.config.MinRows {
		return nil, errors.TableParseError(errors.CodeTooFewRows, name, len(rows), nil)
	}

	headerRow := e.findHeaderRow(rows)
	if headerRow < 0 {
		return nil, errors.TableParseError(errors.CodeNoHeaderRow, name, len(rows), nil)
	}

	table := &Table{
		Name:      name,
		HeaderRow: headerRow,
		ExpiryRow: e.findExpiryRow(rows, headerRow),
	}
	table.Columns = e.courseColumns(rows[headerRow], rows, table.ExpiryRow)

	for i := headerRow + 1; i < len(rows); i++ {
		if i == table.ExpiryRow {
			continue
		}
		row := rows[i]
		staff := firstCell(row)
		if staff == "" || e.isDivider(staff) {
			continue
		}
		if e.isExpiryLabel(staff) {
			e.logger.WithFields(logger.Fields{"table": name, "row": i + 1}).Debug("Skipping extra expiry-policy row")
			continue
		}

		table.StaffRows++
		for _, col := range table.Columns {
			if col.Index >= len(row) {
				continue
			}
			value := strings.TrimSpace(row[col.Index])
			if value == "" {
				continue
			}
			table.Records = append(table.Records, models.SourceRecord{
				Row:           i + 1,
				Column:        col.Index,
				StaffNameRaw:  staff,
				CourseNameRaw: col.Name,
				CellValueRaw:  value,
			})
		}
	}

	e.logger.WithFields(logger.Fields{
		"table":      name,
		"header_row": headerRow + 1,
		"columns":    len(table.Columns),
		"staff_rows": table.StaffRows,
		"records":    len(table.Records),
	}).Debug("Extracted table")

	return table, nil
}

func (e *Extractor) findHeaderRow(rows [][]string) int {
	for i := 0; i < len(rows) && i < e.config.HeaderScanRows; i++ {
		if e.headerLabels[normalizeLabel(firstCell(rows[i]))] {
			return i
		}
	}
	return -1
}

// findExpiryRow ranks candidates by marker order, then prefers rows below the
// header. A candidate needs at least one description beside its label, so a
// title such as "Training Expiry Report" is never taken for the policy row.
func (e *Extractor) findExpiryRow(rows [][]string, headerRow int) int {
	limit := min(len(rows), e.config.HeaderScanRows)
	order := make([]int, 0, limit)
	for i := headerRow + 1; i < limit; i++ {
		order = append(order, i)
	}
	for i := 0; i < headerRow && i < limit; i++ {
		order = append(order, i)
	}

	for _, marker := range e.config.ExpiryRowMarkers {
		for _, i := range order {
			if strings.Contains(normalizeLabel(firstCell(rows[i])), marker) && hasDescriptions(rows[i]) {
				return i
			}
		}
	}
	return -1
}

// isExpiryLabel reports whether a first cell reads like an expiry-policy label
func (e *Extractor) isExpiryLabel(cell string) bool {
	label := normalizeLabel(cell)
	for _, marker := range e.config.ExpiryRowMarkers {
		if strings.Contains(label, marker) {
			return true
		}
	}
	return false
}

func hasDescriptions(row []string) bool {
	if len(row) < 2 {
		return false
	}
	for _, cell := range row[1:] {
		if strings.TrimSpace(cell) != "" {
			return true
		}
	}
	return false
}

func (e *Extractor) courseColumns(header []string, rows [][]string, expiryRow int) []Column {
	seen := make(map[string]bool)
	var columns []Column
	for i := 1; i < len(header); i++ {
		name := collapseSpaces(strings.TrimSpace(header[i]))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		col := Column{Index: i, Name: name}
		if expiryRow >= 0 && i < len(rows[expiryRow]) {
			col.ExpiryDescription = strings.TrimSpace(rows[expiryRow][i])
		}
		columns = append(columns, col)
	}
	return columns
}

// isDivider reports whether a first cell labels a structural row. A repeated
// header row inside the data counts as a divider, as does a "Key: ..." style
// legend whose prefix is a marker.
func (e *Extractor) isDivider(cell string) bool {
	label := strings.TrimSuffix(normalizeLabel(cell), ":")
	if e.dividers[label] || e.headerLabels[label] {
		return true
	}
	if idx := strings.Index(label, ":"); idx > 0 {
		return e.dividers[strings.TrimSpace(label[:idx])]
	}
	return false
}

func firstCell(row []string) string {
	if len(row) == 0 {
		return ""
	}
	return strings.TrimSpace(row[0])
}

// normalizeLabel lower-cases, folds typographic apostrophes and collapses whitespace
func normalizeLabel(s string) string {
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.ReplaceAll(s, "‘", "'")
	return collapseSpaces(strings.ToLower(strings.TrimSpace(s)))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
