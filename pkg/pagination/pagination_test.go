package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxWithQuery(q string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+q, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(ctxWithQuery(""))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_LimitOffset(t *testing.T) {
	p := FromContext(ctxWithQuery("limit=50&offset=10"))
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("expected 50/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_CapsLimit(t *testing.T) {
	p := FromContext(ctxWithQuery("limit=5000"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := FromContext(ctxWithQuery("offset=-4"))
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Page(t *testing.T) {
	p := FromContext(ctxWithQuery("page=3&limit=10"))
	if p.Offset != 20 {
		t.Errorf("expected offset 20 for page 3, got %d", p.Offset)
	}
	if p.Page() != 3 {
		t.Errorf("expected Page() 3, got %d", p.Page())
	}

	p = FromContext(ctxWithQuery("page=3&limit=10&offset=5"))
	if p.Offset != 5 {
		t.Errorf("explicit offset should win, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, 2, 0)
	if !r.HasMore {
		t.Error("expected HasMore for first page of 5")
	}
	r = NewResponse([]int{5}, 5, 2, 4)
	if r.HasMore {
		t.Error("expected no more after last page")
	}
}

func TestParams_HasNext(t *testing.T) {
	p := Params{Limit: 10, Offset: 90}
	if p.HasNext(100) {
		t.Error("expected no next page at 90+10 of 100")
	}
	if !p.HasNext(101) {
		t.Error("expected next page at 90+10 of 101")
	}
}
