package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
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
		{"/?limit=50&offset=10", 50, 10},
		{"/?limit=500", MaxLimit, 0},
		{"/?offset=-5", DefaultLimit, 0},
		{"/?limit=0", DefaultLimit, 0},
		{"/?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := paramsFor(tt.target)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%s: got limit=%d offset=%d, want %d/%d", tt.target, p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if r := NewResponse([]int{1}, 30, 20, 0); !r.HasMore {
		t.Error("expected has_more on first of two pages")
	}
	if r := NewResponse([]int{1}, 30, 20, 20); r.HasMore {
		t.Error("expected no has_more on last page")
	}
	if r := NewResponse([]int{}, 20, 20, 0); r.HasMore {
		t.Error("expected no has_more when the page is exactly full")
	}
}

func TestWithNext(t *testing.T) {
	u, _ := url.Parse("/api/v1/alerts?patient_id=abc&limit=10")
	r := NewResponse([]int{1}, 25, 10, 0).WithNext(u)

	next, err := url.Parse(r.Next)
	if err != nil {
		t.Fatalf("unparsable next %q: %v", r.Next, err)
	}
	if next.Path != "/api/v1/alerts" {
		t.Errorf("unexpected path %q", next.Path)
	}
	q := next.Query()
	if q.Get("offset") != "10" || q.Get("limit") != "10" || q.Get("patient_id") != "abc" {
		t.Errorf("unexpected next query %q", next.RawQuery)
	}
}

func TestWithNext_LastPage(t *testing.T) {
	u, _ := url.Parse("/api/v1/alerts?offset=20")
	r := NewResponse([]int{1}, 25, 10, 20).WithNext(u)
	if r.Next != "" {
		t.Errorf("expected no next link, got %q", r.Next)
	}
}
