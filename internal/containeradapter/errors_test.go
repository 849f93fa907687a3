package containeradapter

import (
	"errors"
	"net/http"
	"testing"

	"github.com/drone-hub/hub/internal/apierr"
)

func TestClassifyNotFound(t *testing.T) {
	err := classify("c1", errors.New("Error: No such container: c1"), "")
	if apierr.StatusOf(err) != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apierr.StatusOf(err))
	}
}

func TestClassifyConflict(t *testing.T) {
	err := classify("c1", errors.New("container already running"), "")
	if apierr.StatusOf(err) != http.StatusConflict {
		t.Errorf("status = %d, want 409", apierr.StatusOf(err))
	}
}

func TestClassifyConflictFromStderr(t *testing.T) {
	err := classify("c1", errors.New("exit status 128"), "fatal: not a git repository")
	if apierr.StatusOf(err) != http.StatusConflict {
		t.Errorf("status = %d, want 409", apierr.StatusOf(err))
	}
}

func TestClassifyDefaultInternal(t *testing.T) {
	err := classify("c1", errors.New("something unexpected"), "")
	if apierr.StatusOf(err) != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apierr.StatusOf(err))
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if classify("c1", nil, "") != nil {
		t.Error("classify(nil) should return nil")
	}
}
