package marketplace

import "context"

// CardsListPageLimit is the page size requested on every cards list call;
// a page returning fewer than this many total remaining records signals
// the caller has reached the end of the feed.
const CardsListPageLimit = 100

// CardsCursor positions a CardsList call at the page following the one that
// produced it. The zero value requests the first page.
type CardsCursor struct {
	NmID      int64
	UpdatedAt string
}

type cardsListRequest struct {
	Settings cardsListSettings `json:"settings"`
}

type cardsListSettings struct {
	Cursor cardsListCursor `json:"cursor"`
	Filter cardsListFilter `json:"filter"`
}

type cardsListCursor struct {
	Limit     int    `json:"limit"`
	NmID      int64  `json:"nmID,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type cardsListFilter struct {
	WithPhoto int `json:"withPhoto"`
}

// Card is one product card returned by the cards list endpoint.
type Card struct {
	NmID       int64  `json:"nmID"`
	VendorCode string `json:"vendorCode"`
	Title      string `json:"title"`
}

// CardsListPage is one page of the cards list feed, including the cursor
// needed to request the next page.
type CardsListPage struct {
	Cards  []Card `json:"cards"`
	Cursor struct {
		NmID      int64  `json:"nmID"`
		UpdatedAt string `json:"updatedAt"`
		Total     int    `json:"total"`
	} `json:"cursor"`
}

// CardsList fetches one page of product cards starting after cursor.
func (c *Client) CardsList(ctx context.Context, cursor CardsCursor) (*CardsListPage, error) {
	req := cardsListRequest{
		Settings: cardsListSettings{
			Cursor: cardsListCursor{
				Limit:     CardsListPageLimit,
				NmID:      cursor.NmID,
				UpdatedAt: cursor.UpdatedAt,
			},
			Filter: cardsListFilter{WithPhoto: -1},
		},
	}

	var page CardsListPage
	if err := c.doJSON(ctx, "POST", cardsListURL, req, &page); err != nil {
		return nil, err
	}

	return &page, nil
}
