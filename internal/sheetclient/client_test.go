package sheetclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// newTestClient points a Client at an httptest server instead of the real
// Google Sheets API, so Upload's request sequence can be exercised without
// live credentials.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	service, err := sheets.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)

	return &Client{service: service}, server
}

func TestClient_Upload_NoRowsIsNotAnError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request to %s, rows is empty so no HTTP call should happen", r.URL.Path)
	})

	uploaded, err := c.Upload(context.Background(), "sheet-id", "tech_list", nil)

	require.NoError(t, err)
	require.False(t, uploaded)
}

func TestClient_Upload_CreatesSheetWhenMissingThenClearsAndWrites(t *testing.T) {
	var sawCreate, sawClear, sawUpdate bool

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v4/spreadsheets/sheet-id":
			_ = json.NewEncoder(w).Encode(&sheets.Spreadsheet{
				SpreadsheetId: "sheet-id",
				Sheets: []*sheets.Sheet{
					{Properties: &sheets.SheetProperties{Title: "Sheet1"}},
				},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/v4/spreadsheets/sheet-id:batchUpdate":
			sawCreate = true
			_ = json.NewEncoder(w).Encode(&sheets.BatchUpdateSpreadsheetResponse{})
		case r.Method == http.MethodPost && r.URL.Path == "/v4/spreadsheets/sheet-id/values/tech_list:clear":
			sawClear = true
			_ = json.NewEncoder(w).Encode(&sheets.ClearValuesResponse{})
		case r.Method == http.MethodPut && r.URL.Path == "/v4/spreadsheets/sheet-id/values/tech_list":
			sawUpdate = true
			_ = json.NewEncoder(w).Encode(&sheets.UpdateValuesResponse{})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	rows := [][]any{
		{"store_id", "date", "nm_id"},
		{int64(1), "2026-07-29", int64(555)},
	}

	uploaded, err := c.Upload(context.Background(), "sheet-id", "tech_list", rows)

	require.NoError(t, err)
	require.True(t, uploaded)
	require.True(t, sawCreate, "expected a batchUpdate call to create the missing sheet")
	require.True(t, sawClear, "expected a clear call before writing")
	require.True(t, sawUpdate, "expected a values.update call with the rows")
}
