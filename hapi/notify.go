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
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/tidwall/gjson"
)

// ErrReplyTimeout is returned by a fetch when no delivery notification for
// its request arrives within the configured reply timeout.
var ErrReplyTimeout = errors.Reason("delivery notification timed out")

// stream is the push-notification connection over which the service
// announces deliveries.
type stream struct {
	conn *websocket.Conn
}

func dialStream(ctx context.Context, uri string, header http.Header) (*stream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, uri, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Annotate(err, "failed to connect to %s: status %d",
				uri, resp.StatusCode)
		}
		return nil, errors.Annotate(err, "failed to connect to %s", uri)
	}
	logging.Infof(ctx, "connected to notification stream %s", uri)
	return &stream{conn: conn}, nil
}

// redialStream replaces a dead stream connection with a fresh one.
func (c *Client) redialStream(ctx context.Context) error {
	c.stream.Close()
	st, err := dialStream(ctx, c.streamURL, c.authHeader())
	if err != nil {
		return err
	}
	c.stream = st
	return nil
}

func (s *stream) Close() error {
	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}

// awaitDelivery blocks on the notification stream until the service reports
// the delivery generated by the given request in the client's catalog, and
// returns the reply URL of the payload. Heartbeats and notifications for
// other requests or catalogs are skipped. The wall-clock deadline covers the
// whole wait, not each message: a stream busy with unrelated events still
// times out.
func (c *Client) awaitDelivery(ctx context.Context, reqID string) (string, error) {
	want := reqID + distributionSuffix
	deadline := time.Now().Add(c.cfg.ReplyTimeout)
	for {
		if err := c.stream.conn.SetReadDeadline(deadline); err != nil {
			return "", errors.Annotate(err, "failed to set stream deadline")
		}
		_, data, err := c.stream.conn.ReadMessage()
		if err != nil {
			// A read error, timeout included, is permanent on a websocket.
			// Reconnect so the next call gets a usable stream.
			if redialErr := c.redialStream(ctx); redialErr != nil {
				logging.Warningf(ctx, "failed to reconnect the notification stream: %s",
					redialErr.Error())
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return "", ErrReplyTimeout
			}
			return "", errors.Annotate(err, "notification stream read failed")
		}
		generated := gjson.GetBytes(data, "generated")
		if !generated.Exists() {
			logging.Debugf(ctx, "skipping non-delivery event")
			continue
		}
		dist := generated.Get("identifier").String()
		catalog := generated.Get("snapshot.dataset.catalog.identifier").String()
		if dist != want || catalog != c.catalog {
			logging.Debugf(ctx, "skipping delivery %s of catalog %s", dist, catalog)
			continue
		}
		replyURL := generated.Map()["@id"].String()
		if replyURL == "" {
			return "", errors.Reason("delivery %s carries no reply URL", dist)
		}
		logging.Infof(ctx, "request %s delivered at %s", reqID, replyURL)
		return replyURL, nil
	}
}
