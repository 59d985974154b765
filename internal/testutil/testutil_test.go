package testutil

import (
	"net/http"
	"testing"

	"github.com/Formily/formily-web/internal/store"
)

func TestNewTestServer(t *testing.T) {
	server, st := NewTestServer(t, TextSurvey("s1", "q1"))
	if server == nil {
		t.Fatal("NewTestServer returned nil server")
	}
	if st == nil {
		t.Fatal("NewTestServer returned nil store")
	}
}

func TestTextSurvey(t *testing.T) {
	s := TextSurvey("s1", "q1", "q2")
	if err := s.Validate(); err != nil {
		t.Fatalf("built survey failed validation: %v", err)
	}
	if len(s.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(s.Questions))
	}
	if s.Questions[1].OrderNumber != 2 {
		t.Errorf("expected ascending order numbers, got %d", s.Questions[1].OrderNumber)
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/events", map[string]string{"name": "signup"})
	if req.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.Method)
	}
	if req.URL.Path != "/events" {
		t.Errorf("expected /events, got %s", req.URL.Path)
	}

	noBody := CreateHTTPRequest(t, http.MethodGet, "/surveys", nil)
	if noBody.Method != http.MethodGet {
		t.Errorf("expected GET, got %s", noBody.Method)
	}
}

func TestSeedTestData(t *testing.T) {
	st := store.NewInMemoryStore()
	SeedTestData(t, st)
	AssertResponseCount(t, st, 2, "seeded store")

	events, err := st.GetEvents("test-user")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 seeded event, got %d", len(events))
	}
}

func TestMustMarshalRoundTrip(t *testing.T) {
	in := map[string]string{"plan": "pro"}
	data := MustMarshalJSON(t, in)

	var out map[string]string
	MustUnmarshalJSON(t, data, &out)
	if out["plan"] != "pro" {
		t.Errorf("round trip lost data: %v", out)
	}
}
