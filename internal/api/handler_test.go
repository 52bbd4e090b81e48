package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/gamerec/internal/session"
)

const testToken = "test-token"

type mockConversation struct {
	reply string
	err   error
	asked string
}

func (m *mockConversation) Turn(_ context.Context, sess *session.Session, utterance string) (string, error) {
	if m.err != nil {
		sess.Append(session.Turn{Role: session.RoleUser, Content: utterance})
		return "", m.err
	}
	sess.Append(
		session.Turn{Role: session.RoleUser, Content: utterance},
		session.Turn{Role: session.RoleAssistant, Content: m.reply},
	)
	return m.reply, nil
}

func (m *mockConversation) Ask(_ context.Context, query string) (string, error) {
	m.asked = query
	return m.reply, m.err
}

type mockCatalog struct{ n int }

func (m mockCatalog) CountGames(context.Context) (int, error) { return m.n, nil }

func newTestHandler(conv *mockConversation) (http.Handler, *session.Store) {
	sessions := session.NewStore(0)
	h := NewHandler(AppDeps{
		Conversation: conv,
		Sessions:     sessions,
		Catalog:      mockCatalog{n: 3},
		Token:        testToken,
		Variant:      "filtered",
		Model:        "test/model",
	})
	return h, sessions
}

func do(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(&mockConversation{})
	rr := do(t, h, http.MethodGet, "/health", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestMetricsIsPublic(t *testing.T) {
	h, _ := newTestHandler(&mockConversation{})
	rr := do(t, h, http.MethodGet, "/metrics", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Error("metrics output missing default collectors")
	}
}

func TestV1RequiresToken(t *testing.T) {
	h, _ := newTestHandler(&mockConversation{})
	for _, path := range []string{"/v1/status", "/v1/sessions"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, rr.Code)
		}
	}
}

func TestStatus(t *testing.T) {
	h, sessions := newTestHandler(&mockConversation{})
	sessions.Create()
	rr := do(t, h, http.MethodGet, "/v1/status", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got StatusResponse
	json.NewDecoder(rr.Body).Decode(&got)
	want := StatusResponse{Games: 3, Sessions: 1, Variant: "filtered", Model: "test/model"}
	if got != want {
		t.Errorf("status = %+v, want %+v", got, want)
	}
}

func TestSessionLifecycle(t *testing.T) {
	conv := &mockConversation{reply: "Try Hades."}
	h, _ := newTestHandler(conv)

	rr := do(t, h, http.MethodPost, "/v1/sessions", "", true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rr.Code)
	}
	var created SessionResponse
	json.NewDecoder(rr.Body).Decode(&created)
	if created.ID == "" {
		t.Fatal("empty session id")
	}

	rr = do(t, h, http.MethodPost, "/v1/sessions/"+created.ID+"/messages", `{"content":"a roguelike please"}`, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("message status = %d: %s", rr.Code, rr.Body.String())
	}
	var reply ReplyResponse
	json.NewDecoder(rr.Body).Decode(&reply)
	if reply.Reply != "Try Hades." {
		t.Errorf("reply = %q", reply.Reply)
	}

	rr = do(t, h, http.MethodGet, "/v1/sessions/"+created.ID, "", true)
	var got SessionResponse
	json.NewDecoder(rr.Body).Decode(&got)
	if len(got.Turns) != 2 || got.Turns[0].Content != "a roguelike please" || got.Turns[1].Role != session.RoleAssistant {
		t.Errorf("turns = %+v", got.Turns)
	}

	rr = do(t, h, http.MethodDelete, "/v1/sessions/"+created.ID, "", true)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/v1/sessions/"+created.ID, "", true)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rr.Code)
	}
}

func TestPostMessage_Errors(t *testing.T) {
	conv := &mockConversation{err: errors.New("upstream down")}
	h, sessions := newTestHandler(conv)
	sess := sessions.Create()

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantType string
	}{
		{"unknown session", "/v1/sessions/nope/messages", `{"content":"hi"}`, http.StatusNotFound, "not_found"},
		{"empty content", "/v1/sessions/" + sess.ID + "/messages", `{"content":"  "}`, http.StatusBadRequest, "invalid_request_error"},
		{"bad json", "/v1/sessions/" + sess.ID + "/messages", `{`, http.StatusBadRequest, "invalid_request_error"},
		{"downstream failure", "/v1/sessions/" + sess.ID + "/messages", `{"content":"hi"}`, http.StatusBadGateway, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, tt.path, tt.body, true)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if got := errorType(t, rr); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}

	if turns := sess.History(); len(turns) != 1 || turns[0].Role != session.RoleUser {
		t.Errorf("after failure history = %+v, want only the user turn", turns)
	}
}

func TestRecommend(t *testing.T) {
	conv := &mockConversation{reply: "Stardew Valley!"}
	h, _ := newTestHandler(conv)

	rr := do(t, h, http.MethodPost, "/v1/recommend", `{"query":"cozy farming"}`, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var reply ReplyResponse
	json.NewDecoder(rr.Body).Decode(&reply)
	if reply.Reply != "Stardew Valley!" || conv.asked != "cozy farming" {
		t.Errorf("reply = %q asked = %q", reply.Reply, conv.asked)
	}

	rr = do(t, h, http.MethodPost, "/v1/recommend", `{"query":""}`, true)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rr.Code)
	}
}
