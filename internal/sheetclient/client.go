// Package sheetclient uploads a store's dimensional export rows to a
// Google Sheet — the Go equivalent of the original GoogleSheetUploader
// (clear the sheet, then one values.update call).
package sheetclient

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Uploader is the export-stage dependency internal/manager drives. Defined
// by the domain so the spreadsheet backend stays swappable, mirroring the
// teacher's dependency-inversion shape (a domain-owned interface,
// infrastructure-owned implementation).
type Uploader interface {
	// Upload writes rows (header row first, then one row per record) to
	// sheetName in spreadsheetID, creating the sheet if it doesn't already
	// exist. Returns false, nil when rows has no data rows — the caller
	// should treat that as "nothing to export", not a failure.
	Upload(ctx context.Context, spreadsheetID, sheetName string, rows [][]any) (bool, error)
}

// Client uploads rows through the Google Sheets API.
type Client struct {
	service *sheets.Service
}

// New builds a Client authenticated with a service-account credentials
// file, scoped to read/write access on spreadsheets.
func New(ctx context.Context, credentialsFile string) (*Client, error) {
	data, err := os.ReadFile(credentialsFile) //nolint:gosec // path comes from trusted deployment config
	if err != nil {
		return nil, fmt.Errorf("read sheets credentials file: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse sheets credentials: %w", err)
	}

	service, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("build sheets service: %w", err)
	}

	return &Client{service: service}, nil
}

// Upload implements Uploader.
func (c *Client) Upload(ctx context.Context, spreadsheetID, sheetName string, rows [][]any) (bool, error) {
	if len(rows) <= 1 {
		return false, nil
	}

	if err := c.checkAccess(ctx, spreadsheetID); err != nil {
		return false, err
	}

	if err := c.ensureSheetExists(ctx, spreadsheetID, sheetName); err != nil {
		return false, err
	}

	if err := c.clearSheet(ctx, spreadsheetID, sheetName); err != nil {
		return false, err
	}

	_, err := c.service.Spreadsheets.Values.Update(spreadsheetID, sheetName, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("update sheet %q values: %w", sheetName, err)
	}

	return true, nil
}

func (c *Client) checkAccess(ctx context.Context, spreadsheetID string) error {
	if _, err := c.service.Spreadsheets.Get(spreadsheetID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("check access to spreadsheet %q: %w", spreadsheetID, err)
	}

	return nil
}

// ensureSheetExists creates sheetName as a new tab if the spreadsheet
// doesn't already have one with that title.
func (c *Client) ensureSheetExists(ctx context.Context, spreadsheetID, sheetName string) error {
	metadata, err := c.service.Spreadsheets.Get(spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("fetch spreadsheet %q metadata: %w", spreadsheetID, err)
	}

	for _, sheet := range metadata.Sheets {
		if sheet.Properties.Title == sheetName {
			return nil
		}
	}

	request := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
		},
	}

	if _, err := c.service.Spreadsheets.BatchUpdate(spreadsheetID, request).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create sheet %q: %w", sheetName, err)
	}

	return nil
}

func (c *Client) clearSheet(ctx context.Context, spreadsheetID, sheetName string) error {
	_, err := c.service.Spreadsheets.Values.Clear(spreadsheetID, sheetName, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("clear sheet %q: %w", sheetName, err)
	}

	return nil
}
