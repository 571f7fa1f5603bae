// Copyright 2023 QuarkFin

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"github.com/quarkfin/qf-lib-sub003/cube"
	"github.com/quarkfin/qf-lib-sub003/dates"
	"github.com/quarkfin/qf-lib-sub003/wire"
)

// Config configures a Client. Host is required; everything else has a
// usable default.
type Config struct {
	Host  string // base URL of the service, e.g. "https://api.example.com/eap"
	Token string // bearer token; optional when HTTPClient carries auth itself

	// StreamURL is the push-notification endpoint. When empty it is derived
	// from Host by switching to the websocket scheme and appending
	// "/notifications/".
	StreamURL string

	// Trigger is the resource reference causing the service to execute a
	// Request. Defaults to the catalog's executeNow trigger.
	Trigger string

	ReplyTimeout time.Duration // max wait for a delivery; default 5 minutes
	DownloadDir  string        // payload destination; default os.TempDir()

	// HTTPClient optionally supplies the authenticated session. The default
	// is a plain http.Client.
	HTTPClient *http.Client
}

const defaultReplyTimeout = 5 * time.Minute

// Client is the handle for one authenticated session with the service. It
// owns the HTTP session, the notification stream and the resolved catalog
// identifier. Construction in Dial is the only place this state mutates.
type Client struct {
	cfg       Config
	http      *http.Client
	host      *url.URL // for resolving Location headers
	base      string   // Host without a trailing slash
	catalog   string
	stream    *stream
	streamURL string // for reconnecting after a read failure
}

// Dial creates a Client: it resolves the account's subscription catalog and
// connects the notification stream. Close the client when done.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.Reason("Host is required")
	}
	host, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, errors.Annotate(err, "invalid Host '%s'", cfg.Host)
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = os.TempDir()
	}
	c := &Client{
		cfg:  cfg,
		http: cfg.HTTPClient,
		host: host,
		base: strings.TrimSuffix(cfg.Host, "/"),
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.catalog, err = c.resolveCatalog(ctx); err != nil {
		return nil, errors.Annotate(err, "failed to resolve the subscription catalog")
	}
	logging.Infof(ctx, "using catalog %s", c.catalog)

	c.streamURL = cfg.StreamURL
	if c.streamURL == "" {
		c.streamURL = deriveStreamURL(c.base)
	}
	if c.stream, err = dialStream(ctx, c.streamURL, c.authHeader()); err != nil {
		return nil, errors.Annotate(err, "failed to connect the notification stream")
	}
	return c, nil
}

// Close releases the notification stream. The HTTP session needs no
// explicit shutdown.
func (c *Client) Close() error {
	if c.stream == nil {
		return nil
	}
	return c.stream.Close()
}

// Catalog returns the resolved account catalog identifier.
func (c *Client) Catalog() string { return c.catalog }

func deriveStreamURL(base string) string {
	ws := base
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/notifications/"
}

func (c *Client) authHeader() http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return h
}

// endpoint builds an absolute URL under the API host. Resource URLs on this
// service are directory-like and end with a slash.
func (c *Client) endpoint(parts ...string) string {
	return c.base + "/" + strings.Join(parts, "/") + "/"
}

// catalogList is the JSON shape of the /catalogs/ listing.
type catalogList struct {
	Contains []struct {
		Identifier       string `json:"identifier"`
		SubscriptionType string `json:"subscriptionType"`
	} `json:"contains"`
}

// resolveCatalog lists the catalogs visible to the session and picks the one
// flagged as the account's subscription catalog.
func (c *Client) resolveCatalog(ctx context.Context) (string, error) {
	uri := c.endpoint("catalogs")
	status, body, err := c.get(ctx, uri)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", errors.Reason("GET %s returned status %d", uri, status)
	}
	var list catalogList
	if err := json.Unmarshal(body, &list); err != nil {
		return "", errors.Annotate(err, "failed to decode the catalog listing at %s", uri)
	}
	for _, cat := range list.Contains {
		if cat.SubscriptionType == "scheduled" {
			return cat.Identifier, nil
		}
	}
	return "", errors.Reason("account exposes no subscription catalog")
}

// Query describes one fetch: which instruments, which fields, and over what
// dates. Zero Start and End request current values; otherwise the query is a
// history over [Start, End].
//
// The Single* markers record which axes the caller phrased as a single value
// rather than a sequence of one; they alone determine the shape of the
// result. The date axis of a current-values query is always single.
type Query struct {
	Instruments []string
	Fields      []string

	Start    dates.Date
	End      dates.Date
	Period   string // history sampling period, e.g. "daily"; default "daily"
	Currency string // optional history currency conversion

	// PricingSource is the preferred pricing source mnemonic, optional.
	PricingSource string

	// Overrides apply to every universe member, e.g. the flag to include
	// expired contracts.
	Overrides []FieldOverride

	// Aliases maps a rolling display name to the concrete identifier it
	// currently resolves to. The concrete identifier is what the service
	// sees; the display name is what the result carries. The concrete
	// identifier never leaks to the caller.
	Aliases map[string]string

	SingleDate       bool
	SingleInstrument bool
	SingleField      bool
}

func (q *Query) history() bool { return !q.Start.IsZero() || !q.End.IsZero() }

func (q *Query) single() cube.Single {
	return cube.Single{
		Date:       !q.history() || q.SingleDate,
		Instrument: q.SingleInstrument,
		Field:      q.SingleField,
	}
}

// concreteName maps a display name to the identifier submitted to the
// service.
func concreteName(aliases map[string]string, name string) string {
	if a := aliases[name]; a != "" {
		return a
	}
	return name
}

func (q *Query) concrete(name string) string {
	return concreteName(q.Aliases, name)
}

func (q *Query) validate() error {
	if len(q.Instruments) == 0 {
		return errors.Reason("query has no instruments")
	}
	if len(q.Fields) == 0 {
		return errors.Reason("query has no fields")
	}
	if q.SingleInstrument && len(q.Instruments) != 1 {
		return errors.Reason(
			"single-instrument query has %d instruments", len(q.Instruments))
	}
	if q.SingleField && len(q.Fields) != 1 {
		return errors.Reason("single-field query has %d fields", len(q.Fields))
	}
	if q.history() {
		if q.Start.IsZero() || q.End.IsZero() {
			return errors.Reason("history query requires both Start and End")
		}
		if q.End.Before(q.Start) {
			return errors.Reason("history range is inverted: %s > %s",
				q.Start.String(), q.End.String())
		}
		if q.SingleDate && q.Start != q.End {
			return errors.Reason("a single-date query must have Start == End")
		}
	}
	return nil
}

// Fetch runs the full pipeline for one query and returns the
// dimension-appropriate result. It blocks for the whole duration: resource
// provisioning, the delivery wait (bounded by Config.ReplyTimeout), download
// and decode. One fetch at a time per client.
func (c *Client) Fetch(ctx context.Context, q Query) (cube.Result, error) {
	if err := q.validate(); err != nil {
		return nil, errors.Annotate(err, "invalid query")
	}
	concrete := make([]string, len(q.Instruments))
	for i, name := range q.Instruments {
		concrete[i] = q.concrete(name)
	}
	universeURL, err := c.provisionUniverse(ctx, concrete, q.Overrides)
	if err != nil {
		return nil, errors.Annotate(err, "failed to provision the universe")
	}
	fieldListURL, types, err := c.provisionFieldList(ctx, q.Fields, q.history())
	if err != nil {
		return nil, errors.Annotate(err, "failed to provision the field list")
	}
	reqID := timestampID("r")
	opts := requestOptions{
		history:       q.history(),
		start:         q.Start,
		end:           q.End,
		period:        q.Period,
		currency:      q.Currency,
		pricingSource: q.PricingSource,
	}
	if err := c.createRequest(ctx, reqID, universeURL, fieldListURL, opts); err != nil {
		return nil, errors.Annotate(err, "failed to create request %s", reqID)
	}
	replyURL, err := c.awaitDelivery(ctx, reqID)
	if err != nil {
		return nil, err
	}
	path, err := c.download(ctx, replyURL, reqID+distributionSuffix)
	if err != nil {
		return nil, errors.Annotate(err, "failed to download the delivery")
	}
	r, err := wire.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var cb *cube.Cube
	if q.history() {
		set, err := wire.DecodeHistory(ctx, r, types)
		if err != nil {
			return nil, err
		}
		cb = historyCube(&q, set)
	} else {
		set, err := wire.DecodeCurrent(ctx, r, types)
		if err != nil {
			return nil, err
		}
		cb = currentCube(&q, set)
	}
	if q.SingleInstrument {
		cb.Name = q.Instruments[0]
	}
	return cb.Squeeze(q.single()), nil
}

// currentCube shapes a current-values payload over the requested axes. The
// single date axis is the time of the call; it is collapsed away by the
// squeeze.
func currentCube(q *Query, set *wire.CurrentSet) *cube.Cube {
	asOf := dates.FromTime(time.Now().UTC())
	cb := cube.New([]dates.Date{asOf}, q.Instruments, q.Fields)
	for _, display := range q.Instruments {
		row, ok := set.Rows[q.concrete(display)]
		if !ok {
			continue // stays missing
		}
		for fi, f := range set.Fields {
			cb.Set(asOf, display, f, row.Values[fi])
		}
	}
	return cb
}

// historyCube shapes a history payload. The date axis is the requested
// single date, or the union of dates observed for the requested instruments.
func historyCube(q *Query, set *wire.HistorySet) *cube.Cube {
	var ds []dates.Date
	if q.single().Date {
		ds = []dates.Date{q.Start}
	} else {
		for _, display := range q.Instruments {
			for d := range set.Rows[q.concrete(display)] {
				ds = append(ds, d)
			}
		}
	}
	cb := cube.New(ds, q.Instruments, q.Fields)
	for _, display := range q.Instruments {
		for d, values := range set.Rows[q.concrete(display)] {
			for fi, f := range set.Fields {
				cb.Set(d, display, f, values[fi])
			}
		}
	}
	return cb
}

// ChainQuery asks for the bulk-formatted chain field of each instrument,
// e.g. the chain of contracts behind a rolling future.
type ChainQuery struct {
	Instruments []string
	Field       string // the bulk field mnemonic
	Overrides   []FieldOverride
	Aliases     map[string]string
}

// FetchChain retrieves bulk chain data: instrument display name -> ordered
// sub-identifiers. Every requested instrument has an entry; failed ones map
// to nil.
func (c *Client) FetchChain(ctx context.Context, q ChainQuery) (map[string][]string, error) {
	if len(q.Instruments) == 0 {
		return nil, errors.Reason("query has no instruments")
	}
	if q.Field == "" {
		return nil, errors.Reason("query has no chain field")
	}
	concrete := make([]string, len(q.Instruments))
	for i, name := range q.Instruments {
		concrete[i] = concreteName(q.Aliases, name)
	}
	universeURL, err := c.provisionUniverse(ctx, concrete, q.Overrides)
	if err != nil {
		return nil, errors.Annotate(err, "failed to provision the universe")
	}
	fieldListURL, _, err := c.provisionFieldList(ctx, []string{q.Field}, false)
	if err != nil {
		return nil, errors.Annotate(err, "failed to provision the field list")
	}
	reqID := timestampID("r")
	if err := c.createRequest(ctx, reqID, universeURL, fieldListURL, requestOptions{}); err != nil {
		return nil, errors.Annotate(err, "failed to create request %s", reqID)
	}
	replyURL, err := c.awaitDelivery(ctx, reqID)
	if err != nil {
		return nil, err
	}
	path, err := c.download(ctx, replyURL, reqID+distributionSuffix)
	if err != nil {
		return nil, errors.Annotate(err, "failed to download the delivery")
	}
	r, err := wire.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	chains, err := wire.DecodeChain(ctx, r)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(q.Instruments))
	for i, display := range q.Instruments {
		out[display] = chains[concrete[i]]
	}
	return out, nil
}
