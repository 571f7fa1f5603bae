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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"github.com/quarkfin/qf-lib-sub003/dates"
	"github.com/quarkfin/qf-lib-sub003/wire"
)

// Resource kinds under the catalog path.
const (
	kindUniverse  = "universes"
	kindFieldList = "fieldLists"
	kindRequest   = "requests"
)

// distributionSuffix is appended by the service to a request identifier to
// name the distribution it produces.
const distributionSuffix = ".bbg"

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// resourceID derives the identifier for a Universe or FieldList. A resource
// describing exactly one alphanumeric item gets a deterministic, reusable
// ID; anything else is not safely cacheable by content and gets a timestamp.
func resourceID(prefix string, items []string) string {
	if len(items) == 1 && isAlphanumeric(items[0]) {
		return prefix + strings.ToLower(items[0])
	}
	return timestampID(prefix)
}

// timestampID derives a unique identifier from the current wall clock at
// microsecond resolution.
func timestampID(prefix string) string {
	t := time.Now().UTC()
	return prefix + t.Format("20060102150405") + fmt.Sprintf("%06d", t.Nanosecond()/1000)
}

// get issues a GET and returns the status and body. Unlike the fetch
// helpers it does not treat a non-2xx status as a failure: the existence
// probe of the get-or-create protocol expects 404s.
func (c *Client) get(ctx context.Context, uri string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, nil, errors.Annotate(err, "failed to create GET %s", uri)
	}
	req.Header = c.authHeader()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Annotate(err, "GET %s failed", uri)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Annotate(err, "failed to read response of GET %s", uri)
	}
	return resp.StatusCode, body, nil
}

// post issues a JSON POST and returns the status and the Location header.
func (c *Client) post(ctx context.Context, uri string, payload interface{}) (int, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", errors.Annotate(err, "failed to encode payload for POST %s", uri)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return 0, "", errors.Annotate(err, "failed to create POST %s", uri)
	}
	req.Header = c.authHeader()
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", errors.Annotate(err, "POST %s failed", uri)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, resp.Header.Get("Location"), nil
}

// getOrCreate implements the provisioning protocol: probe the deterministic
// URL with GET and reuse it on 200; otherwise POST to the collection, expect
// 201 with a Location header, and confirm the created resource with a final
// GET. Any other status is a protocol error. Returns the resource URL and
// the body of the succeeding GET.
func (c *Client) getOrCreate(ctx context.Context, kind, id string, payload interface{}) (string, []byte, error) {
	uri := c.endpoint("catalogs", c.catalog, kind, id)
	status, body, err := c.get(ctx, uri)
	if err != nil {
		return "", nil, err
	}
	if status == http.StatusOK {
		logging.Infof(ctx, "reusing %s/%s", kind, id)
		return uri, body, nil
	}
	logging.Infof(ctx, "creating %s/%s", kind, id)
	collection := c.endpoint("catalogs", c.catalog, kind)
	status, location, err := c.post(ctx, collection, payload)
	if err != nil {
		return "", nil, err
	}
	if status != http.StatusCreated {
		return "", nil, errors.Reason(
			"POST %s returned status %d, want %d", collection, status, http.StatusCreated)
	}
	if location == "" {
		return "", nil, errors.Reason("POST %s returned no Location header", collection)
	}
	resolved, err := c.host.Parse(location)
	if err != nil {
		return "", nil, errors.Annotate(err, "unresolvable Location '%s'", location)
	}
	created := resolved.String()
	status, body, err = c.get(ctx, created)
	if err != nil {
		return "", nil, err
	}
	if status != http.StatusOK {
		return "", nil, errors.Reason(
			"created %s/%s is not available at %s: status %d", kind, id, created, status)
	}
	return created, body, nil
}

// FieldOverride overrides a field of every universe member, e.g. the flag
// to include expired contracts in a chain.
type FieldOverride struct {
	Type     string `json:"@type"`
	Mnemonic string `json:"mnemonic"`
	Override string `json:"override"`
}

// NewFieldOverride is the constructor for FieldOverride.
func NewFieldOverride(mnemonic, override string) FieldOverride {
	return FieldOverride{Type: "FieldOverride", Mnemonic: mnemonic, Override: override}
}

type universeEntry struct {
	Type            string          `json:"@type"`
	IdentifierType  string          `json:"identifierType"`
	IdentifierValue string          `json:"identifierValue"`
	FieldOverrides  []FieldOverride `json:"fieldOverrides,omitempty"`
}

type universePayload struct {
	Type       string          `json:"@type"`
	Identifier string          `json:"identifier"`
	Title      string          `json:"title"`
	Contains   []universeEntry `json:"contains"`
}

// provisionUniverse gets or creates the Universe naming the instruments and
// returns its URL.
func (c *Client) provisionUniverse(ctx context.Context, instruments []string, overrides []FieldOverride) (string, error) {
	id := resourceID("u", instruments)
	contains := make([]universeEntry, len(instruments))
	for i, instrument := range instruments {
		contains[i] = universeEntry{
			Type:            "Identifier",
			IdentifierType:  "TICKER",
			IdentifierValue: instrument,
			FieldOverrides:  overrides,
		}
	}
	payload := universePayload{
		Type:       "Universe",
		Identifier: id,
		Title:      "Universe " + id,
		Contains:   contains,
	}
	uri, _, err := c.getOrCreate(ctx, kindUniverse, id, &payload)
	return uri, err
}

type fieldListEntry struct {
	Mnemonic string `json:"mnemonic"`
}

type fieldListPayload struct {
	Type       string           `json:"@type"`
	Identifier string           `json:"identifier"`
	Title      string           `json:"title"`
	Contains   []fieldListEntry `json:"contains"`
}

// fieldListResource is the JSON shape of a provisioned field list; the
// service annotates every contained field with its declared type.
type fieldListResource struct {
	Contains []struct {
		Mnemonic string `json:"mnemonic"`
		Type     string `json:"type"`
	} `json:"contains"`
}

// provisionFieldList gets or creates the FieldList and extracts the
// declared type of every contained field. Historical field lists differ
// only in their resource kind.
func (c *Client) provisionFieldList(ctx context.Context, fields []string, historical bool) (string, wire.FieldTypeMap, error) {
	typeName := "DataFieldList"
	if historical {
		typeName = "HistoryFieldList"
	}
	id := resourceID("fl", fields)
	contains := make([]fieldListEntry, len(fields))
	for i, f := range fields {
		contains[i] = fieldListEntry{Mnemonic: f}
	}
	payload := fieldListPayload{
		Type:       typeName,
		Identifier: id,
		Title:      "FieldList " + id,
		Contains:   contains,
	}
	uri, body, err := c.getOrCreate(ctx, kindFieldList, id, &payload)
	if err != nil {
		return "", nil, err
	}
	var res fieldListResource
	if err := json.Unmarshal(body, &res); err != nil {
		return "", nil, errors.Annotate(err, "failed to decode field list %s", uri)
	}
	types := make(wire.FieldTypeMap, len(res.Contains))
	for _, f := range res.Contains {
		types[f.Mnemonic] = wire.ParseFieldType(f.Type)
	}
	return uri, types, nil
}

type dateRange struct {
	Type  string `json:"@type"`
	Start string `json:"startDate"`
	End   string `json:"endDate"`
}

type runtimeOptions struct {
	Type      string    `json:"@type"`
	Period    string    `json:"period"`
	DateRange dateRange `json:"dateRange"`
	Currency  string    `json:"historyPriceCurrency,omitempty"`
}

type mnemonicRef struct {
	Mnemonic string `json:"mnemonic"`
}

type pricingSourceOptions struct {
	Type   string      `json:"@type"`
	Prefer mnemonicRef `json:"prefer"`
}

type formatting struct {
	Type         string `json:"@type"`
	ColumnHeader bool   `json:"columnHeader"`
	DateFormat   string `json:"dateFormat"`
	Delimiter    string `json:"delimiter"`
	OutputFormat string `json:"outputFormat"`
}

type requestPayload struct {
	Type                 string                `json:"@type"`
	Identifier           string                `json:"identifier"`
	Title                string                `json:"title"`
	Universe             string                `json:"universe"`
	FieldList            string                `json:"fieldList"`
	Trigger              string                `json:"trigger"`
	Formatting           formatting            `json:"formatting"`
	RuntimeOptions       *runtimeOptions       `json:"runtimeOptions,omitempty"`
	PricingSourceOptions *pricingSourceOptions `json:"pricingSourceOptions,omitempty"`
}

// requestOptions carries the runtime options differing between current-value
// and history requests.
type requestOptions struct {
	history       bool
	start, end    dates.Date
	period        string
	currency      string
	pricingSource string
}

// createRequest creates the Request resource binding the universe, the field
// list and the trigger. Requests are never probed for existence: each call
// creates a fresh one.
func (c *Client) createRequest(ctx context.Context, id, universeURL, fieldListURL string, opts requestOptions) error {
	trigger := c.cfg.Trigger
	if trigger == "" {
		trigger = c.endpoint("catalogs", c.catalog, "triggers", "executeNow")
	}
	typeName := "DataRequest"
	if opts.history {
		typeName = "HistoryRequest"
	}
	payload := requestPayload{
		Type:       typeName,
		Identifier: id,
		Title:      "Request " + id,
		Universe:   universeURL,
		FieldList:  fieldListURL,
		Trigger:    trigger,
		Formatting: formatting{
			Type:         "DataFormat",
			ColumnHeader: true,
			DateFormat:   "yyyymmdd",
			Delimiter:    "|",
			OutputFormat: "variable",
		},
	}
	if opts.history {
		period := opts.period
		if period == "" {
			period = "daily"
		}
		payload.RuntimeOptions = &runtimeOptions{
			Type:   "HistoryRuntimeOptions",
			Period: period,
			DateRange: dateRange{
				Type:  "IntervalDateRange",
				Start: opts.start.String(),
				End:   opts.end.String(),
			},
			Currency: opts.currency,
		}
	}
	if opts.pricingSource != "" {
		payload.PricingSourceOptions = &pricingSourceOptions{
			Type:   "DataPricingSourceOptions",
			Prefer: mnemonicRef{Mnemonic: opts.pricingSource},
		}
	}
	collection := c.endpoint("catalogs", c.catalog, kindRequest)
	status, location, err := c.post(ctx, collection, &payload)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return errors.Reason(
			"POST %s returned status %d, want %d", collection, status, http.StatusCreated)
	}
	if location == "" {
		return errors.Reason("POST %s returned no Location header", collection)
	}
	resolved, err := c.host.Parse(location)
	if err != nil {
		return errors.Annotate(err, "unresolvable Location '%s'", location)
	}
	logging.Infof(ctx, "created request %s at %s", id, resolved.String())
	return nil
}
