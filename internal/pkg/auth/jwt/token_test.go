package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("session-1", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	payload, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if payload.SessionID != "session-1" {
		t.Fatalf("unexpected session id %q", payload.SessionID)
	}

	if _, err := ParseToken(token, "other-secret"); err == nil {
		t.Fatalf("token verified with the wrong secret")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken("session-1", testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ParseToken(token, testSecret); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestSessionExtractorMiddleware(t *testing.T) {
	token, err := GenerateToken("session-42", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var got *Payload
	h := SessionExtractorMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetPayloadFromContext(r)
	}))

	cases := []struct {
		name  string
		build func() *http.Request
		want  string
	}{
		{"cookie", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/me", nil)
			r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
			return r
		}, "session-42"},
		{"query fallback", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/me?sid="+token, nil)
		}, "session-42"},
		{"garbage", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/me", nil)
			r.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
			return r
		}, ""},
		{"anonymous", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/me", nil)
		}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got = nil
			h.ServeHTTP(httptest.NewRecorder(), tc.build())

			switch {
			case tc.want == "" && got != nil:
				t.Fatalf("expected anonymous request, got %+v", got)
			case tc.want != "" && (got == nil || got.SessionID != tc.want):
				t.Fatalf("expected session %q, got %+v", tc.want, got)
			}
		})
	}
}
