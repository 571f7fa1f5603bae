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
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

// download streams the delivered payload from its reply URL into the
// download directory as <distID>.gz and returns the file path. The explicit
// Accept-Encoding header keeps the transport from transparently
// decompressing the body: the payload is stored compressed as served.
func (c *Client) download(ctx context.Context, replyURL, distID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, replyURL, nil)
	if err != nil {
		return "", errors.Annotate(err, "failed to create GET %s", replyURL)
	}
	req.Header = c.authHeader()
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Annotate(err, "failed to download %s", replyURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Reason("GET %s returned status %d", replyURL, resp.StatusCode)
	}

	path := filepath.Join(c.cfg.DownloadDir, distID+".gz")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", errors.Annotate(err, "failed to create %s", path)
	}
	defer f.Close()

	buf := make([]byte, 2048)
	n, err := io.CopyBuffer(f, resp.Body, buf)
	if err != nil {
		return "", errors.Annotate(err, "failed to save %s", path)
	}
	logging.Infof(ctx, "downloaded %d bytes to %s", n, path)
	return path, nil
}
