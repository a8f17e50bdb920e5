package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		provider Provider
		status   int
		want     int
	}{
		{ProviderThriveCart, http.StatusInternalServerError, http.StatusOK},
		{ProviderThriveCart, http.StatusNotFound, http.StatusOK},
		{ProviderThriveCart, http.StatusServiceUnavailable, http.StatusOK},
		{ProviderThriveCart, http.StatusBadRequest, http.StatusBadRequest},
		{ProviderTopup, http.StatusInternalServerError, http.StatusOK},
		{ProviderFanbases, http.StatusInternalServerError, http.StatusInternalServerError},
		{ProviderFanbases, http.StatusNotFound, http.StatusNotFound},
		{ProviderAPI, http.StatusUnauthorized, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.provider, tt.status); got != tt.want {
			t.Errorf("StatusFor(%s, %d) = %d, want %d", tt.provider, tt.status, got, tt.want)
		}
	}
}

func TestFailBodies(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ServerError(c, ProviderThriveCart, "boom")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["success"] != false || body["error"] != "boom" {
		t.Fatalf("unexpected body %v", body)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	ServerError(c, ProviderFanbases, "boom")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	body = map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if _, ok := body["success"]; ok || body["error"] != "boom" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRejectKeepsStatus(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Reject(c, http.StatusForbidden, "invalid secret")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestSuccessMergesFields(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Success(c, gin.H{"credits": 1000})

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["success"] != true || body["credits"] != float64(1000) {
		t.Fatalf("unexpected body %v", body)
	}
}
