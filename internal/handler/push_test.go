package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVAPIDPublicKey(t *testing.T) {
	h := NewPushHandler(nil, "BApplicationServerKey")

	rec := httptest.NewRecorder()
	h.VAPIDPublicKey(rec, httptest.NewRequest("GET", "/api/push/vapid-public", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["key"] != "BApplicationServerKey" {
		t.Errorf("key = %q", body["key"])
	}
}

func TestVAPIDPublicKeyUnconfigured(t *testing.T) {
	h := NewPushHandler(nil, "")

	rec := httptest.NewRecorder()
	h.VAPIDPublicKey(rec, httptest.NewRequest("GET", "/api/push/vapid-public", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
