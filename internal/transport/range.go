package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/adamavenir/histkeep/internal/gap"
	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

const rangePath = "/v1/history/range"

// codeNoSuchRange is the error code the service uses when the requested
// history does not exist.
const codeNoSuchRange = "no_such_range"

// ErrRangeTooWide is returned when the service claims to cover more than
// was requested.
var ErrRangeTooWide = errors.New("actual range exceeds the requested range")

type wireIndex struct {
	MessageID int64 `json:"message_id"`
	Timestamp int64 `json:"timestamp"`
}

type wireRange struct {
	Low  wireIndex `json:"low"`
	High wireIndex `json:"high"`
}

type wireMessage struct {
	MessageID int64            `json:"message_id"`
	Timestamp int64            `json:"timestamp"`
	Author    string           `json:"author,omitempty"`
	Body      string           `json:"body"`
	Media     []types.MediaRef `json:"media,omitempty"`
}

// RangeResponse is the body of GET /v1/history/range. A missing or empty
// actual_range means nothing was covered.
type RangeResponse struct {
	Messages    []wireMessage `json:"messages"`
	ActualRange *wireRange    `json:"actual_range"`
}

func (w wireIndex) index(scopeID int64) types.MessageIndex {
	return types.MessageIndex{ScopeID: scopeID, MessageID: w.MessageID, Timestamp: w.Timestamp}
}

// FetchRange requests at most limit messages of [low, high) in one scope.
func (c *Client) FetchRange(ctx context.Context, scopeID int64, low, high types.MessageIndex, limit int) (gap.RangeResult, error) {
	query := url.Values{}
	query.Set("scope_id", strconv.FormatInt(scopeID, 10))
	query.Set("low_id", strconv.FormatInt(low.MessageID, 10))
	query.Set("low_ts", strconv.FormatInt(low.Timestamp, 10))
	query.Set("high_id", strconv.FormatInt(high.MessageID, 10))
	query.Set("high_ts", strconv.FormatInt(high.Timestamp, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp RangeResponse
	if err := c.getJSON(ctx, rangePath, query, &resp); err != nil {
		return gap.RangeResult{}, classifyRangeError(err)
	}

	result := gap.RangeResult{Messages: make([]types.Message, 0, len(resp.Messages))}
	if resp.ActualRange != nil {
		actualLow := resp.ActualRange.Low.index(scopeID)
		actualHigh := resp.ActualRange.High.index(scopeID)
		if actualLow.Less(actualHigh) {
			if actualLow.Less(low) || high.Less(actualHigh) {
				return gap.RangeResult{}, types.NewFetchError(types.KindUnknown, "fetch_range",
					fmt.Errorf("%w: asked [%s, %s), got [%s, %s)", ErrRangeTooWide, low, high, actualLow, actualHigh))
			}
			result.Actual = holes.NewHole(actualLow, actualHigh)
		}
	}
	for _, msg := range resp.Messages {
		result.Messages = append(result.Messages, types.Message{
			Index:  types.MessageIndex{ScopeID: scopeID, MessageID: msg.MessageID, Timestamp: msg.Timestamp},
			Author: msg.Author,
			Body:   msg.Body,
			Media:  msg.Media,
		})
	}
	return result, nil
}

func classifyRangeError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeNoSuchRange &&
		(apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone) {
		return types.NewFetchError(types.KindPermanentGap, "fetch_range", err)
	}
	if isTransient(err) {
		return types.NewFetchError(types.KindTransientNetwork, "fetch_range", err)
	}
	return types.NewFetchError(types.KindUnknown, "fetch_range", err)
}
