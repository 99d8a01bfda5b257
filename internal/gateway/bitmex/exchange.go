package bitmex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"barfeed/internal/logger"
	"barfeed/internal/market"

	"github.com/tidwall/gjson"
)

var _ market.Exchange = (*Client)(nil)

// GetBucketedBars calls /trade/bucketed. BitMEX stamps each bucket with its
// close time.
func (c *Client) GetBucketedBars(ctx context.Context, q market.BucketQuery) ([]market.RawBar, error) {
	query := url.Values{}
	query.Set("binSize", q.Bin)
	query.Set("partial", strconv.FormatBool(q.Partial))
	query.Set("symbol", q.Symbol)
	query.Set("count", strconv.Itoa(q.Count))
	query.Set("reverse", strconv.FormatBool(q.Reverse))

	body, err := c.get(ctx, "/trade/bucketed", query)
	if err != nil {
		return nil, err
	}
	rows, err := parseArray(body, "/trade/bucketed")
	if err != nil {
		return nil, err
	}
	out := make([]market.RawBar, 0, len(rows))
	for _, row := range rows {
		ts, err := market.ParseISO(row.Get("timestamp").String())
		if err != nil {
			return nil, fmt.Errorf("%w: /trade/bucketed: %w", market.ErrFetchFailure, err)
		}
		if row.Get("close").Type == gjson.Null {
			logger.Debugf("[bitmex] empty bucket %s skipped", market.FormatISO(ts))
			continue
		}
		out = append(out, market.RawBar{
			Timestamp: ts,
			Open:      row.Get("open").Float(),
			High:      row.Get("high").Float(),
			Low:       row.Get("low").Float(),
			Close:     row.Get("close").Float(),
			Volume:    row.Get("volume").Float(),
		})
	}
	return out, nil
}

// GetRecentTrades calls /trade with a column filter.
func (c *Client) GetRecentTrades(ctx context.Context, q market.TradeQuery) ([]market.Trade, error) {
	cols := q.Columns
	if len(cols) == 0 {
		cols = market.TradeColumns
	}
	colJSON, err := json.Marshal(cols)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("symbol", q.Symbol)
	query.Set("columns", string(colJSON))
	query.Set("count", strconv.Itoa(q.Count))
	query.Set("reverse", strconv.FormatBool(q.Reverse))

	body, err := c.get(ctx, "/trade", query)
	if err != nil {
		return nil, err
	}
	rows, err := parseArray(body, "/trade")
	if err != nil {
		return nil, err
	}
	out := make([]market.Trade, 0, len(rows))
	for _, row := range rows {
		ts, err := market.ParseISO(row.Get("timestamp").String())
		if err != nil {
			return nil, fmt.Errorf("%w: /trade: %w", market.ErrFetchFailure, err)
		}
		out = append(out, market.Trade{
			Timestamp: ts,
			Size:      row.Get("size").Float(),
			Price:     row.Get("price").Float(),
		})
	}
	return out, nil
}

func parseArray(body []byte, path string) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %s: invalid json", market.ErrFetchFailure, path)
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		if msg := res.Get("error.message").String(); msg != "" {
			return nil, fmt.Errorf("%w: %s: %s", market.ErrFetchFailure, path, msg)
		}
		return nil, fmt.Errorf("%w: %s: expected array", market.ErrFetchFailure, path)
	}
	return res.Array(), nil
}
