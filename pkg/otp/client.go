// Package otp is a client for the OpenTripPlanner plan endpoint, plus the
// batch runner and trip filters used to route generated trips.
package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
)

const (
	PlanPath = "/opentripplanner-api-webapp/ws/plan"

	// TimeLayout is the format of the time query parameter.
	TimeLayout = "2006-01-02T15:04:05"
)

var ErrNoItinerary = errors.New("no itinerary")

type Client struct {
	baseURL    string
	routerID   string
	params     url.Values
	httpClient *http.Client
}

type Option func(*Client)

// WithRouterID selects a graph on a multi-graph server.
func WithRouterID(id string) Option {
	return func(c *Client) { c.routerID = id }
}

// WithParams adds routing parameters (mode, maxWalkDistance, ...) sent with
// every request.
func WithParams(params map[string]string) Option {
	return func(c *Client) {
		for k, v := range params {
			c.params.Set(k, v)
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		params:  url.Values{},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) RouterID() string {
	return c.routerID
}

// place formats a lon/lat point the way the planner expects: "lat,lon".
func place(p orb.Point) string {
	return fmt.Sprintf("%v,%v", p.Lat(), p.Lon())
}

// PlanURL builds the request for a trip from origin to dest departing at
// dep.
func (c *Client) PlanURL(origin, dest orb.Point, dep time.Time) string {
	params := url.Values{}
	for k, v := range c.params {
		params[k] = v
	}
	params.Set("fromPlace", place(origin))
	params.Set("toPlace", place(dest))
	params.Set("time", dep.Format(TimeLayout))
	if c.routerID != "" {
		params.Set("routerId", c.routerID)
	}
	return fmt.Sprintf("%s%s?%s", c.baseURL, PlanPath, params.Encode())
}

type planResponse struct {
	Plan *struct {
		Itineraries []Itinerary `json:"itineraries"`
	} `json:"plan"`
	Error *struct {
		ID  int    `json:"id"`
		Msg string `json:"msg"`
	} `json:"error"`
}

// Plan asks the server for itineraries and returns the first. A planner
// error body maps to ErrNoItinerary carrying the server's message.
func (c *Client) Plan(ctx context.Context, origin, dest orb.Point, dep time.Time) (*Itinerary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PlanURL(origin, dest, dep), nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status code: %d", resp.StatusCode)
	}

	var pr planResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, errors.Wrap(err, "decoding response")
	}

	if pr.Plan == nil || len(pr.Plan.Itineraries) == 0 {
		msg := "empty plan"
		if pr.Error != nil && pr.Error.Msg != "" {
			msg = pr.Error.Msg
		}
		return nil, errors.Wrapf(ErrNoItinerary, "%s", msg)
	}
	it := pr.Plan.Itineraries[0]
	return &it, nil
}
