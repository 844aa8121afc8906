package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"intercompany-reconciliation-service/pkg/errors"
	"intercompany-reconciliation-service/pkg/logger"
)

func newTestErrorHandler(verbose bool) (*CLIErrorHandler, *bytes.Buffer) {
	var out bytes.Buffer
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger(),
		verbose: verbose,
		out:     &out,
	}, &out
}

func TestHandleError_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"file", errors.FileError(errors.CodeFileNotFound, "a.csv", os.ErrNotExist), 2},
		{"parse", errors.New(errors.CategoryParse, errors.CodeInvalidData, "bad row"), 3},
		{"validation", errors.ValidationError(errors.CodeMissingField, "id", "", nil), 3},
		{"configuration", errors.ConfigurationError(errors.CodeInvalidConfig, "storage.driver", "x", nil), 4},
		{"not found", errors.NotFoundError(errors.CodeReconciliationNotFound, "reconciliation", "r1"), 5},
		{"invalid state", errors.InvalidStateError(errors.CodeImmutable, "unmatch", "approved"), 5},
		{"internal", errors.InternalError(errors.CodeStorageFailure, "save", fmt.Errorf("boom")), 6},
		{"wrapped", fmt.Errorf("import: %w", errors.New(errors.CategoryParse, errors.CodeInvalidData, "bad row")), 3},
		{"missing file", &os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, 2},
		{"generic", fmt.Errorf("something"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestErrorHandler(false)
			if got := h.HandleError(tt.err); got != tt.want {
				t.Errorf("HandleError() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHandleError_Output(t *testing.T) {
	h, out := newTestErrorHandler(true)
	err := errors.InternalError(errors.CodeStorageFailure, "save", fmt.Errorf("disk gone")).
		WithContext("reconciliation", "r1").
		WithSuggestion("Retry later")

	h.HandleError(err)

	text := out.String()
	for _, want := range []string{"Error: ", "reconciliation: r1", "Suggestion: Retry later", "Underlying error: disk gone"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestFormatRowErrors(t *testing.T) {
	if got := FormatRowErrors(nil, 0); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}

	got := FormatRowErrors([]string{"line 2: bad amount", "line 3: bad date"}, 5)
	if !strings.Contains(got, "Found 5 invalid rows") {
		t.Errorf("missing total: %s", got)
	}
	if !strings.Contains(got, "2. line 3: bad date") {
		t.Errorf("missing numbered sample: %s", got)
	}
	if !strings.Contains(got, "... and 3 more") {
		t.Errorf("missing remainder: %s", got)
	}
}
