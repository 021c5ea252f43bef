package marketplace

import (
	"context"
	"fmt"
	"net/url"
)

// Sale is one row of the incremental sales feed.
type Sale struct {
	NmID           int64   `json:"nmId"`
	Date           string  `json:"date"`
	LastChangeDate string  `json:"lastChangeDate"`
	SaleID         string  `json:"saleID"`
	PriceWithDisc  float64 `json:"priceWithDisc"`
}

// FactSales fetches every sale recorded since dateFrom (a full timestamp,
// not just a date — the feed is cursored on lastChangeDate down to the
// second). An empty result means the store has caught up to the present.
func (c *Client) FactSales(ctx context.Context, dateFrom string) ([]Sale, error) {
	query := url.Values{
		"dateFrom": {dateFrom},
		"flag":     {"0"},
	}

	fullURL := fmt.Sprintf("%s?%s", factSalesURL, query.Encode())

	var sales []Sale
	if err := c.doJSON(ctx, "GET", fullURL, nil, &sales); err != nil {
		return nil, err
	}

	return sales, nil
}
