package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mcdev12/dartslive/go/clients"
	"github.com/mcdev12/dartslive/go/internal/live/events"
	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
)

// ErrFetchRejected is returned when the snapshot endpoint answers with
// success=false.
var ErrFetchRejected = errors.New("live matches request rejected")

// Fetcher loads the full list of live matches for a tournament.
type Fetcher interface {
	FetchLiveMatches(ctx context.Context, tournamentCode string) ([]matchstate.Summary, error)
}

// HTTPFetcher reads the gateway's live-matches endpoint.
type HTTPFetcher struct {
	client *clients.BaseClient
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	c := clients.NewBaseClient(baseURL)
	c.SetTimeout(10 * time.Second)
	c.SetHeader("Accept", "application/json")
	c.SetHeader("Cache-Control", "no-store")
	return &HTTPFetcher{client: c}
}

func (f *HTTPFetcher) FetchLiveMatches(ctx context.Context, tournamentCode string) ([]matchstate.Summary, error) {
	var resp events.LiveMatchesResponse
	endpoint := "/api/tournaments/" + url.PathEscape(tournamentCode) + "/live-matches"
	if err := f.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch live matches for %s: %w", tournamentCode, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrFetchRejected, resp.Error)
	}
	return resp.Matches, nil
}
