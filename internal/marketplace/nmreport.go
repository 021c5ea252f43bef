package marketplace

import "context"

// NMReportPeriod bounds the date range an nm-report/detail page reports on.
type NMReportPeriod struct {
	Begin string
	End   string
}

type nmReportDetailRequest struct {
	Period  nmReportDetailPeriod `json:"period"`
	OrderBy nmReportDetailOrder  `json:"orderBy"`
	Page    int                  `json:"page"`
}

type nmReportDetailPeriod struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
}

type nmReportDetailOrder struct {
	Field string `json:"field"`
	Mode  string `json:"mode"`
}

// NMReportCardStats is the per-product-card statistics block nm-report/detail
// returns for the requested period.
type NMReportCardStats struct {
	NmID       int64 `json:"nmID"`
	Statistics struct {
		SelectedPeriod struct {
			OpenCardCount  int     `json:"openCardCount"`
			AddToCartCount int     `json:"addToCartCount"`
			OrdersCount    int     `json:"ordersCount"`
			OrdersSumRub   float64 `json:"ordersSumRub"`
			BuyoutsCount   int     `json:"buyoutsCount"`
			BuyoutsSumRub  float64 `json:"buyoutsSumRub"`
		} `json:"selectedPeriod"`
	} `json:"statistics"`
}

// NMReportDetailPage is one page of the nm-report/detail feed.
type NMReportDetailPage struct {
	Data struct {
		Page       int                 `json:"page"`
		IsNextPage bool                `json:"isNextPage"`
		Cards      []NMReportCardStats `json:"cards"`
	} `json:"data"`
	Error     bool   `json:"error"`
	ErrorText string `json:"errorText"`
}

// NMReportDetail fetches page of nm-report/detail data for the given period,
// ordered by open card count descending as the Wildberries default view does.
func (c *Client) NMReportDetail(ctx context.Context, period NMReportPeriod, page int) (*NMReportDetailPage, error) {
	req := nmReportDetailRequest{
		Period:  nmReportDetailPeriod{Begin: period.Begin, End: period.End},
		OrderBy: nmReportDetailOrder{Field: "openCard", Mode: "desc"},
		Page:    page,
	}

	var resp NMReportDetailPage
	if err := c.doJSON(ctx, "POST", nmReportDetailURL, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}
