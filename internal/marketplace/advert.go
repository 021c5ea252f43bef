package marketplace

import (
	"context"
	"errors"
)

// AdvertTypeGroup is one campaign-type bucket returned by the promotion
// count endpoint.
type AdvertTypeGroup struct {
	Type       int `json:"type"`
	AdvertList []struct {
		AdvertID int64 `json:"advertId"`
	} `json:"advert_list"`
}

// AdvertCountResponse lists every campaign a store has, grouped by type.
type AdvertCountResponse struct {
	Adverts []AdvertTypeGroup `json:"adverts"`
}

// AdvertCount fetches the full list of a store's campaign ids, grouped by
// advert type.
func (c *Client) AdvertCount(ctx context.Context) (*AdvertCountResponse, error) {
	var resp AdvertCountResponse
	if err := c.doJSON(ctx, "GET", advertCountURL, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// AdvertInfo is one campaign's lifecycle timestamps.
type AdvertInfo struct {
	AdvertID   int64  `json:"advertId"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
	CreateTime string `json:"createTime"`
	ChangeTime string `json:"changeTime"`
}

// AdvertInfoBatch fetches lifecycle info for up to 50 campaign ids in one
// call; callers chunk larger id lists themselves.
func (c *Client) AdvertInfoBatch(ctx context.Context, advertIDs []int64) ([]AdvertInfo, error) {
	var infos []AdvertInfo
	if err := c.doJSON(ctx, "POST", advertInfoURL, advertIDs, &infos); err != nil {
		return nil, err
	}

	return infos, nil
}

// AdvertStatsRequest asks for full stats on one campaign across a set of
// dates. The endpoint accepts a batch of these per call.
type AdvertStatsRequest struct {
	ID    int64    `json:"id"`
	Dates []string `json:"dates"`
}

// AdvertStatsNm is the per-product-card row inside one app's stats for one
// day of one campaign.
type AdvertStatsNm struct {
	NmID     int64   `json:"nmId"`
	Views    int     `json:"views"`
	Clicks   int     `json:"clicks"`
	Ctr      float64 `json:"ctr"`
	Cpc      float64 `json:"cpc"`
	Sum      float64 `json:"sum"`
	Atbs     int     `json:"atbs"`
	Orders   int     `json:"orders"`
	Cr       float64 `json:"cr"`
	Shks     int     `json:"shks"`
	SumPrice float64 `json:"sum_price"`
}

// AdvertStatsApp is one placement type's stats for one day.
type AdvertStatsApp struct {
	AppType int             `json:"appType"`
	Nm      []AdvertStatsNm `json:"nm"`
}

// AdvertStatsDay is one day's stats for one campaign, broken down by app.
type AdvertStatsDay struct {
	Date string           `json:"date"`
	Apps []AdvertStatsApp `json:"apps"`
}

// AdvertStats is the full stats payload for one campaign.
type AdvertStats struct {
	AdvertID int64            `json:"advertId"`
	Days     []AdvertStatsDay `json:"days"`
}

// AdvertFullStats fetches full stats for a batch of campaigns across the
// dates requested for each. A 400 response means the batch has nothing to
// report (e.g. every campaign in it predates the requested dates) and is
// not an error; callers get back a nil slice in that case.
func (c *Client) AdvertFullStats(ctx context.Context, batch []AdvertStatsRequest) ([]AdvertStats, error) {
	var stats []AdvertStats

	err := c.doJSON(ctx, "POST", advertFullStatsURL, batch, &stats)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 400 {
			return nil, nil
		}

		return nil, err
	}

	return stats, nil
}
