// Package aliasing resolves which spreadsheet a store's export lands in.
//
// Production stores export to the spreadsheet id stored on their own row
// (stores.table_id). A dev deployment instead pins every store to one
// shared scratch spreadsheet, so nobody accidentally overwrites a seller's
// real tech sheet while testing the export pipeline.
package aliasing

import "os"

// TableIDResolver decides the spreadsheet id a store export uploads to.
type TableIDResolver struct {
	devMode    bool
	devTableID string
}

// NewTableIDResolver builds a resolver from the ENVIRONMENT and
// DEFAULT_WB_TECH_TABLE_ID environment variables.
func NewTableIDResolver() *TableIDResolver {
	return &TableIDResolver{
		devMode:    os.Getenv("ENVIRONMENT") == "dev",
		devTableID: os.Getenv("DEFAULT_WB_TECH_TABLE_ID"),
	}
}

// Resolve returns storeTableID unchanged, unless the resolver is in dev
// mode and a dev table id is configured, in which case it overrides every
// store to that one shared spreadsheet.
func (r *TableIDResolver) Resolve(storeTableID string) string {
	if r.devMode && r.devTableID != "" {
		return r.devTableID
	}

	return storeTableID
}
