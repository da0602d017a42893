package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"/", DefaultLimit, 0},
		{"/?limit=10&offset=30", 10, 30},
		{"/?limit=9999", MaxLimit, 0},
		{"/?limit=abc&offset=-5", DefaultLimit, 0},
		{"/?limit=10&page=3", 10, 20},
		{"/?limit=10&page=3&offset=5", 10, 5},
		{"/?page=0", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			p := paramsFor(t, tt.target)
			if p.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestParamsNavigation(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if !p.HasNext(16) {
		t.Error("expected next page for total 16")
	}
	if p.HasNext(15) {
		t.Error("expected no next page for total 15")
	}
	if got := p.NextOffset(); got != 15 {
		t.Errorf("NextOffset = %d, want 15", got)
	}
	if got := p.PreviousOffset(); got != 0 {
		t.Errorf("PreviousOffset = %d, want 0", got)
	}
	if got := (Params{Limit: 10, Offset: 25}).PreviousOffset(); got != 15 {
		t.Errorf("PreviousOffset = %d, want 15", got)
	}
}

func TestNewResponse(t *testing.T) {
	items := []string{"a", "b"}
	r := NewResponse(items, 5, 2, 0)
	if !r.HasMore {
		t.Error("expected has_more")
	}
	if r.Total != 5 || r.Limit != 2 || r.Offset != 0 {
		t.Errorf("unexpected metadata: %+v", r)
	}

	last := NewResponse(items, 5, 2, 4)
	if last.HasMore {
		t.Error("last page should not have more")
	}
}

func TestResponseWithNext(t *testing.T) {
	q := url.Values{"clinician_id": {"CLIN01"}, "page": {"1"}}

	r := NewResponse(nil, 30, 10, 0).WithNext("/api/v1/appointments", q)
	want := "/api/v1/appointments?clinician_id=CLIN01&limit=10&offset=10"
	if r.Next != want {
		t.Errorf("Next = %q, want %q", r.Next, want)
	}

	done := NewResponse(nil, 30, 10, 20).WithNext("/api/v1/appointments", q)
	if done.Next != "" {
		t.Errorf("expected empty Next on last page, got %q", done.Next)
	}
}
