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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

// notifyServer serves the given messages over a websocket and then keeps the
// connection open until the client closes it.
func notifyServer(messages []string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for _, m := range messages {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
					return
				}
			}
			for { // drain until the peer goes away
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}))
}

func wsURL(server *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(server.URL, "http://")
}

func delivery(dist, catalog, replyURL string) string {
	return `{"generated": {"@id": "` + replyURL + `", "identifier": "` + dist +
		`", "snapshot": {"dataset": {"catalog": {"identifier": "` + catalog + `"}}}}}`
}

func TestAwaitDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	Convey("skips unrelated events until the matching delivery", t, func() {
		server := notifyServer([]string{
			`{"heartbeat": "2021-07-05T12:00:00Z"}`,
			delivery("other.bbg", "test", "http://host/replies/other.bbg/"),
			delivery("r1.bbg", "wrongcatalog", "http://host/replies/r1.bbg/"),
			delivery("r1.bbg", "test", "http://host/replies/r1.bbg/"),
		})
		defer server.Close()

		st, err := dialStream(ctx, wsURL(server), nil)
		So(err, ShouldBeNil)
		c := &Client{cfg: Config{ReplyTimeout: 5 * time.Second},
			catalog: "test", stream: st, streamURL: wsURL(server)}
		defer c.Close()

		replyURL, err := c.awaitDelivery(ctx, "r1")
		So(err, ShouldBeNil)
		So(replyURL, ShouldEqual, "http://host/replies/r1.bbg/")
	})

	Convey("a delivery without a reply URL is an error", t, func() {
		server := notifyServer([]string{
			`{"generated": {"identifier": "r1.bbg", "snapshot": {"dataset": {"catalog": {"identifier": "test"}}}}}`,
		})
		defer server.Close()

		st, err := dialStream(ctx, wsURL(server), nil)
		So(err, ShouldBeNil)
		c := &Client{cfg: Config{ReplyTimeout: 5 * time.Second},
			catalog: "test", stream: st}
		defer c.Close()

		_, err = c.awaitDelivery(ctx, "r1")
		So(err, ShouldNotBeNil)
	})

	Convey("times out when no delivery arrives", t, func() {
		server := notifyServer(nil)
		defer server.Close()

		st, err := dialStream(ctx, wsURL(server), nil)
		So(err, ShouldBeNil)
		c := &Client{cfg: Config{ReplyTimeout: 50 * time.Millisecond},
			catalog: "test", stream: st, streamURL: wsURL(server)}
		defer c.Close()

		_, err = c.awaitDelivery(ctx, "r1")
		So(err, ShouldEqual, ErrReplyTimeout)
	})

	Convey("the stream survives a timeout", t, func() {
		// The server pushes the r2 delivery to every new connection.
		server := notifyServer([]string{
			delivery("r2.bbg", "test", "http://host/replies/r2.bbg/"),
		})
		defer server.Close()

		st, err := dialStream(ctx, wsURL(server), nil)
		So(err, ShouldBeNil)
		c := &Client{cfg: Config{ReplyTimeout: 500 * time.Millisecond},
			catalog: "test", stream: st, streamURL: wsURL(server)}
		defer c.Close()

		// The first wait sees only the unrelated r2 delivery and times out.
		_, err = c.awaitDelivery(ctx, "r1")
		So(err, ShouldEqual, ErrReplyTimeout)

		// A timeout must not brick the handle: the next wait runs on a
		// reconnected stream and receives its delivery.
		replyURL, err := c.awaitDelivery(ctx, "r2")
		So(err, ShouldBeNil)
		So(replyURL, ShouldEqual, "http://host/replies/r2.bbg/")
	})

	Convey("dialStream fails on a plain HTTP endpoint", t, func() {
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
		defer server.Close()

		_, err := dialStream(ctx, wsURL(server), nil)
		So(err, ShouldNotBeNil)
	})
}
