package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/adamavenir/histkeep/internal/types"
)

const mediaPath = "/v1/media/"

// ErrNoMediaCache is returned by FetchResource on a client built without a
// cache.
var ErrNoMediaCache = errors.New("transport has no media cache")

// FetchResource downloads a resource into the media cache. progress is
// called as bytes arrive when the response declares its length.
func (c *Client) FetchResource(ctx context.Context, resourceID string, progress func(float32)) (types.LocalHandle, error) {
	if c.cache == nil {
		return types.LocalHandle{}, ErrNoMediaCache
	}
	resp, err := c.do(ctx, mediaPath+url.PathEscape(resourceID), nil, "*/*")
	if err != nil {
		return types.LocalHandle{}, classifyMediaError(err)
	}
	defer resp.Body.Close()

	w, err := c.cache.Create(resourceID)
	if err != nil {
		return types.LocalHandle{}, err
	}
	total := resp.ContentLength
	buf := make([]byte, 32<<10)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				w.Abort()
				return types.LocalHandle{}, err
			}
			if total > 0 && progress != nil {
				progress(float32(float64(w.Written()) / float64(total)))
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			w.Abort()
			if errors.Is(readErr, context.Canceled) {
				return types.LocalHandle{}, readErr
			}
			return types.LocalHandle{}, types.NewFetchError(types.KindTransientNetwork, "fetch_resource", readErr)
		}
	}
	if total > 0 && w.Written() != total {
		w.Abort()
		return types.LocalHandle{}, types.NewFetchError(types.KindTransientNetwork, "fetch_resource",
			fmt.Errorf("short body: got %d of %d bytes", w.Written(), total))
	}
	return w.Commit()
}

func classifyMediaError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTransient(err) {
		return types.NewFetchError(types.KindTransientNetwork, "fetch_resource", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return types.NewFetchError(types.KindResourceUnavailable, "fetch_resource", err)
	}
	return types.NewFetchError(types.KindUnknown, "fetch_resource", err)
}
