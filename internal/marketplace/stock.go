package marketplace

import "context"

var factStockAvailabilityFilters = []string{
	"deficient", "actual", "balanced", "nonActual", "nonLiquid", "invalid",
}

type factStockRequest struct {
	NmIDs               []int64            `json:"nmIDs,omitempty"`
	SubjectID           *int64             `json:"subjectID,omitempty"`
	BrandName           *string            `json:"brandName,omitempty"`
	TagID               *int64             `json:"tagID,omitempty"`
	CurrentPeriod       factStockPeriod    `json:"currentPeriod"`
	StockType           string             `json:"stockType"`
	SkipDeletedNm       bool               `json:"skipDeletedNm"`
	OrderBy             factStockOrder     `json:"orderBy"`
	AvailabilityFilters []string           `json:"availabilityFilters"`
	Limit               int                `json:"limit"`
	Offset              int                `json:"offset"`
}

type factStockPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type factStockOrder struct {
	Field string `json:"field"`
	Mode  string `json:"mode"`
}

// StockEntry is one warehouse-level stock count nested under a product.
type StockEntry struct {
	StockCount      int `json:"stockCount"`
	ToClientCount   int `json:"toClientCount"`
	FromClientCount int `json:"fromClientCount"`
}

// FactStockProduct is one product's stock report for the requested date.
type FactStockProduct struct {
	NmID   int64        `json:"nmID"`
	Stocks []StockEntry `json:"stocks"`
}

// FactStockResponse is the full stocks-report/products/products response.
type FactStockResponse struct {
	Data struct {
		Products []FactStockProduct `json:"products"`
	} `json:"data"`
}

// FactStock fetches the stock report for the given date (typically
// yesterday, per the freshness check that drives this task).
func (c *Client) FactStock(ctx context.Context, date string) (*FactStockResponse, error) {
	req := factStockRequest{
		CurrentPeriod:       factStockPeriod{Start: date, End: date},
		StockType:           "",
		SkipDeletedNm:       false,
		OrderBy:             factStockOrder{Field: "stockCount", Mode: "desc"},
		AvailabilityFilters: factStockAvailabilityFilters,
		Limit:               1000,
		Offset:              0,
	}

	var resp FactStockResponse
	if err := c.doJSON(ctx, "POST", factStockURL, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}
