package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func TestAuth_TokenRoundTrip(t *testing.T) {
	a := New(testSecret)

	token, err := a.IssueToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	userID, err := a.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if userID != "user-1" {
		t.Errorf("userID = %v, want user-1", userID)
	}
}

func TestAuth_ParseToken_Rejections(t *testing.T) {
	a := New(testSecret)

	expired, _ := a.IssueToken("user-1", -time.Hour)
	otherKey, _ := New("a-completely-different-secret-value-here").IssueToken("user-1", time.Hour)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
	})
	noSubjectSigned, _ := noSubject.SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "expired", token: expired},
		{name: "wrong signing key", token: otherKey},
		{name: "missing subject", token: noSubjectSigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.ParseToken(tt.token); err == nil {
				t.Error("ParseToken() succeeded, want rejection")
			}
		})
	}
}

func TestAuth_RequireAuth(t *testing.T) {
	a := New(testSecret)
	token, _ := a.IssueToken("user-1", time.Hour)

	var gotUserID string
	handler := a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{name: "valid token", authHeader: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "no header", authHeader: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", authHeader: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "invalid token", authHeader: "Bearer junk", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/mail/accounts", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && gotUserID != "user-1" {
				t.Errorf("context user id = %v, want user-1", gotUserID)
			}
		})
	}
}
