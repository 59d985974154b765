// Package testutil provides common test utilities and helpers for formily-web tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Formily/formily-web/internal/api"
	"github.com/Formily/formily-web/internal/hub"
	"github.com/Formily/formily-web/internal/models"
	"github.com/Formily/formily-web/internal/scheduler"
	"github.com/Formily/formily-web/internal/store"
	"github.com/Formily/formily-web/internal/surveys"
)

// NewTestServer creates a test API server with in-memory dependencies over
// the given survey pool. This centralizes the test server creation logic used
// across multiple test files.
func NewTestServer(t *testing.T, pool ...models.Survey) (*api.Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	h := hub.New(hub.Config{Surveys: pool, UserID: "test-user"})
	timer := scheduler.NewSimpleTimer()
	m := surveys.NewManager(h, surveys.Options{
		Client:   surveys.NewStoreClient(st, "test-user"),
		Renderer: surveys.LogRenderer{},
		Frame:    surveys.NopFrame{},
		Timer:    timer,
	})
	t.Cleanup(func() {
		m.Stop()
		timer.Stop()
	})
	return api.NewServer(h, m, st), st
}

// TextSurvey builds a minimal text-question survey for tests.
func TextSurvey(id string, questionIDs ...string) models.Survey {
	s := models.Survey{ID: id, Name: "Survey " + id}
	for i, qid := range questionIDs {
		s.Questions = append(s.Questions, models.Question{
			ID:          qid,
			Type:        models.QuestionTypeText,
			Label:       "Question " + qid,
			OrderNumber: i + 1,
		})
	}
	return s
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// AssertResponseCount validates the number of recorded responses matches expected.
func AssertResponseCount(t *testing.T, st store.Store, expected int, context string) {
	t.Helper()
	responses, err := st.GetResponses("")
	if err != nil {
		t.Fatalf("%s: failed to get responses: %v", context, err)
	}
	if len(responses) != expected {
		t.Errorf("%s: expected %d responses, got %d", context, expected, len(responses))
	}
}

// SeedTestData adds sample records to the store for testing.
func SeedTestData(t *testing.T, st store.Store) {
	t.Helper()

	responses := []models.SurveyResponse{
		{ID: "r1", SurveyID: "s1", QuestionID: "q1", UserID: "test-user",
			Answers: []models.SurveyAnswer{{Answer: "yes"}}, CreatedAt: time.Now()},
		{ID: "r2", SurveyID: "s2", QuestionID: "q1", UserID: "test-user",
			Answers: []models.SurveyAnswer{{Answer: "8", Finished: true}}, Finished: true, CreatedAt: time.Now()},
	}
	for _, r := range responses {
		if err := st.AddResponse(r); err != nil {
			t.Fatalf("failed to seed response: %v", err)
		}
	}

	if err := st.AddEvent(models.TrackedEvent{ID: "e1", UserID: "test-user", Name: "page_view", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
