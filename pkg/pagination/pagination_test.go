package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor(t, "/")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor(t, "/?limit=50&offset=10")
	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_PageParams(t *testing.T) {
	p := paramsFor(t, "/?page=3&per_page=25")
	if p.Limit != 25 {
		t.Errorf("expected limit 25, got %d", p.Limit)
	}
	if p.Offset != 50 {
		t.Errorf("expected offset 50, got %d", p.Offset)
	}
	if p.Page() != 3 {
		t.Errorf("expected page 3, got %d", p.Page())
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := paramsFor(t, "/?limit=500")
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := paramsFor(t, "/?offset=-5")
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 45, 20, 20)
	if resp.Total != 45 {
		t.Errorf("expected total 45, got %d", resp.Total)
	}
	if resp.Page != 2 {
		t.Errorf("expected page 2, got %d", resp.Page)
	}
	if resp.Pages != 3 {
		t.Errorf("expected 3 pages, got %d", resp.Pages)
	}
	if !resp.HasMore {
		t.Error("expected has_more to be true")
	}

	last := NewResponse(nil, 45, 20, 40)
	if last.HasMore {
		t.Error("expected has_more to be false on the last page")
	}
}
