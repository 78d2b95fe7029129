package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "parse error",
			category:   CategoryParse,
			code:       CodeNoHeaderRow,
			message:    "no header",
			cause:      nil,
			expectCode: 3,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidConfig,
			message:    "invalid config",
			cause:      errors.New("missing field"),
			expectCode: 4,
		},
		{
			name:       "persistence error",
			category:   CategoryPersistence,
			code:       CodePersistenceFailed,
			message:    "write failed",
			cause:      errors.New("connection reset"),
			expectCode: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected a stack trace to be captured")
			}
		})
	}
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryFile, CodeFileNotFound, "test error").
		WithContext("file", "/path/to/file").
		WithContext("line", 42).
		WithSuggestion("check file path")

	if err.Context["file"] != "/path/to/file" {
		t.Errorf("expected file context '/path/to/file', got %v", err.Context["file"])
	}
	if err.Context["line"] != 42 {
		t.Errorf("expected line context 42, got %v", err.Context["line"])
	}

	expected := "test error (suggestion: check file path)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("FileError", func(t *testing.T) {
		cause := errors.New("permission denied")
		err := FileError(CodeFilePermission, "/test/matrix.csv", cause)

		if err.Category != CategoryFile {
			t.Errorf("expected file category, got %s", err.Category)
		}
		if err.Context["file_path"] != "/test/matrix.csv" {
			t.Errorf("expected file_path context, got %v", err.Context["file_path"])
		}
		if err.Cause != cause {
			t.Errorf("expected cause to be %v, got %v", cause, err.Cause)
		}
	})

	t.Run("TableParseError", func(t *testing.T) {
		err := TableParseError(CodeTooFewRows, "Oak House", 2, nil)

		if err.Category != CategoryParse {
			t.Errorf("expected parse category, got %s", err.Category)
		}
		if err.Context["table"] != "Oak House" {
			t.Errorf("expected table context, got %v", err.Context["table"])
		}
		if err.Context["rows"] != 2 {
			t.Errorf("expected rows context, got %v", err.Context["rows"])
		}
		if err.IsRecordLevel() {
			t.Error("table parse errors are not record level")
		}
	})

	t.Run("ResolutionError", func(t *testing.T) {
		err := ResolutionError(CodeUnresolvedStaff, "Jane Doe", 7)

		if err.Category != CategoryResolution {
			t.Errorf("expected resolution category, got %s", err.Category)
		}
		if err.Context["row"] != 7 {
			t.Errorf("expected row context, got %v", err.Context["row"])
		}
		if !err.IsRecordLevel() {
			t.Error("resolution errors are record level")
		}
	})

	t.Run("PersistenceError", func(t *testing.T) {
		cause := errors.New("timeout")
		err := PersistenceError(CodeConflictKeyUnsupported, "upsert", cause)

		if err.Category != CategoryPersistence {
			t.Errorf("expected persistence category, got %s", err.Category)
		}
		if !errors.Is(err, cause) {
			t.Error("expected the cause to be reachable with errors.Is")
		}
	})
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		New(CategoryFile, CodeFileNotFound, "error 1"),
		New(CategoryResolution, CodeUnresolvedStaff, "error 2"),
		New(CategoryResolution, CodeUnresolvedCourse, "error 3"),
		New(CategoryResolution, CodeUnresolvedCourse, "error 4"),
		New(CategoryPersistence, CodePersistenceFailed, "error 5"),
		New(CategoryPersistence, CodePersistenceFailed, "error 6"),
	}

	summary := NewErrorSummary(errs)

	if summary.Total != 6 {
		t.Errorf("expected total 6, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryResolution] != 3 {
		t.Errorf("expected 3 resolution errors, got %d", summary.ByCategory[CategoryResolution])
	}
	if summary.ByCode[CodeUnresolvedCourse] != 2 {
		t.Errorf("expected 2 unresolved course errors, got %d", summary.ByCode[CodeUnresolvedCourse])
	}
	if len(summary.SampleErrors) != 5 {
		t.Errorf("expected 5 sample errors, got %d", len(summary.SampleErrors))
	}
	if !summary.HasCategory(CategoryFile) {
		t.Error("expected to have file category")
	}
	if summary.HasCategory(CategoryConfiguration) {
		t.Error("expected not to have configuration category")
	}
	if !summary.HasCode(CodePersistenceFailed) {
		t.Error("expected to have persistence_failed code")
	}
	if summary.GetExitCode() != 6 {
		t.Errorf("expected exit code 6, got %d", summary.GetExitCode())
	}
}

func TestEmptyErrorSummary(t *testing.T) {
	summary := NewErrorSummary(nil)

	if summary.Total != 0 {
		t.Errorf("expected total 0, got %d", summary.Total)
	}
	if summary.Error() != "no errors" {
		t.Errorf("expected 'no errors', got '%s'", summary.Error())
	}
	if summary.GetExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", summary.GetExitCode())
	}
}

func TestAsReconcilerError(t *testing.T) {
	reconcilerErr := New(CategoryFile, CodeFileNotFound, "test")
	wrapped := fmt.Errorf("loading: %w", reconcilerErr)

	if extracted, ok := AsReconcilerError(wrapped); !ok || extracted != reconcilerErr {
		t.Error("expected AsReconcilerError to extract a wrapped ReconcilerError")
	}
	if _, ok := AsReconcilerError(errors.New("generic error")); ok {
		t.Error("expected AsReconcilerError to return false for generic error")
	}
	if _, ok := AsReconcilerError(nil); ok {
		t.Error("expected AsReconcilerError to return false for nil")
	}
	if !HasCode(wrapped, CodeFileNotFound) {
		t.Error("expected HasCode to find the code through wrapping")
	}
}

func TestWrapIfNeeded(t *testing.T) {
	reconcilerErr := New(CategoryFile, CodeFileNotFound, "test")
	genericErr := errors.New("generic error")

	if WrapIfNeeded(reconcilerErr, CategoryInternal, CodeUnexpectedError, "wrapped") != reconcilerErr {
		t.Error("expected WrapIfNeeded to return original ReconcilerError")
	}

	wrapped := WrapIfNeeded(genericErr, CategoryInternal, CodeUnexpectedError, "wrapped")
	if wrapped.Cause != genericErr || wrapped.Category != CategoryInternal {
		t.Error("expected WrapIfNeeded to wrap generic error")
	}

	if WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "wrapped") != nil {
		t.Error("expected WrapIfNeeded to return nil for nil input")
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		category     ErrorCategory
		expectedCode int
	}{
		{CategoryFile, 2},
		{CategoryParse, 3},
		{CategoryValidation, 3},
		{CategoryConfiguration, 4},
		{CategoryResolution, 5},
		{CategoryInternal, 5},
		{CategoryPersistence, 6},
		{ErrorCategory("other"), 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := New(tt.category, "test_code", "test message")
			if err.GetExitCode() != tt.expectedCode {
				t.Errorf("expected exit code %d for category %s, got %d",
					tt.expectedCode, tt.category, err.GetExitCode())
			}
		})
	}
}
