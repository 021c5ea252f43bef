package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_DoJSON_SendsBearerAuthAndDecodesCardsPage(t *testing.T) {
	var gotAuth, gotBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		body, _ := json.Marshal(map[string]any{
			"cards": []Card{{NmID: 1, VendorCode: "sku-1", Title: "widget"}},
			"cursor": map[string]any{
				"nmID":      1,
				"updatedAt": "2026-01-01T00:00:00Z",
				"total":     1,
			},
		})
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	client := New("test-token", WithHTTPClient(server.Client()))

	// Point the package-level URL constant's behavior at the test server by
	// calling doJSON directly against it instead of the real cardsListURL.
	var page CardsListPage
	if err := client.doJSON(context.Background(), "POST", server.URL, cardsListRequest{}, &page); err != nil {
		t.Fatalf("doJSON: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization header = %q, want Bearer test-token", gotAuth)
	}

	if len(page.Cards) != 1 || page.Cards[0].NmID != 1 {
		t.Errorf("unexpected page: %+v (raw %s)", page, gotBody)
	}
}

func TestClient_DoJSON_TooManyRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New("test-token", WithHTTPClient(server.Client()))

	err := client.doJSON(context.Background(), "GET", server.URL, nil, nil)
	if !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("doJSON error = %v, want ErrTooManyRequests", err)
	}
}

func TestClient_DoJSON_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := New("test-token", WithHTTPClient(server.Client()))

	err := client.doJSON(context.Background(), "GET", server.URL, nil, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v (%T)", err, err)
	}

	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", statusErr.StatusCode)
	}
}
