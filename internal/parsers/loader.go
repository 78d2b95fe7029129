package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

// Loader reads exported tables from a filesystem
type Loader struct {
	fs     afero.Fs
	logger logger.Logger
}

// NewLoader creates a loader over fs. A nil fs reads the OS filesystem.
func NewLoader(fs afero.Fs, log logger.Logger) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{fs: fs, logger: logger.OrGlobal(log, "loader")}
}

// Load reads a .csv or .xlsx file into rows of raw cell strings. sheet picks
// the worksheet of a workbook; the first sheet is used when it is empty.
func (l *Loader) Load(ctx context.Context, path, sheet string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "load "+path, err)
	}

	if _, err := l.fs.Stat(path); err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		case os.IsPermission(err):
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		default:
			return nil, errors.FileError(errors.CodeInputUnreadable, path, err)
		}
	}

	var rows [][]string
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		rows, err = l.loadCSV(path)
	case ".xlsx", ".xlsm":
		rows, err = l.loadWorkbook(path, sheet)
	default:
		return nil, errors.FileError(errors.CodeUnsupportedFile, path, nil)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.FileError(errors.CodeInputUnreadable, path, nil)
	}

	l.logger.WithFields(logger.Fields{"file": path, "rows": len(rows)}).Debug("Loaded table")
	return rows, nil
}

func (l *Loader) loadCSV(path string) ([][]string, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, errors.FileError(errors.CodeInputUnreadable, path, err)
	}

	text, encoding, err := decodeText(data)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	if encoding != "utf-8" {
		l.logger.WithFields(logger.Fields{"file": path, "encoding": encoding}).Info("Decoded non UTF-8 export")
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = detectDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	return rows, nil
}

func (l *Loader) loadWorkbook(path, sheet string) ([][]string, error) {
	file, err := l.fs.Open(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeInputUnreadable, path, err)
	}
	defer file.Close()

	book, err := excelize.OpenReader(file)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	defer book.Close()

	if sheet == "" {
		sheets := book.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.FileError(errors.CodeInputUnreadable, path, nil)
		}
		sheet = sheets[0]
	}

	// Raw values keep date cells as serial numbers for ParseCell.
	rows, err := book.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err).WithContext("sheet", sheet)
	}
	return rows, nil
}

// decodeText honours UTF-8 and UTF-16 byte order marks and falls back to
// Windows-1252 for bytes that are not valid UTF-8
func decodeText(data []byte) ([]byte, string, error) {
	encoding := "utf-8"
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		encoding = "utf-16"
	}

	decoded, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), data)
	if err != nil {
		return nil, "", err
	}
	if utf8.Valid(decoded) {
		return decoded, encoding, nil
	}

	decoded, err = charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return nil, "", err
	}
	return decoded, "windows-1252", nil
}

// detectDelimiter picks the most frequent of comma, semicolon and tab on the first line
func detectDelimiter(text []byte) rune {
	line := text
	if idx := bytes.IndexByte(text, '\n'); idx >= 0 {
		line = text[:idx]
	}

	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, candidate := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte{byte(candidate)}); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}
