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

package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/quarkfin/qf-lib-sub003/cube"
	"github.com/quarkfin/qf-lib-sub003/dates"
	"github.com/quarkfin/qf-lib-sub003/hapi"
)

type Flags struct {
	ConfDir  string // default: ~/.datafetch
	CSV      bool   // write CSV instead of aligned text
	NoHeader bool
	LogLevel logging.Level
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("datafetch", flag.ExitOnError)
	fs.StringVar(&flags.ConfDir, "config",
		filepath.Join(os.Getenv("HOME"), ".datafetch"),
		"configuration path")
	fs.BoolVar(&flags.CSV, "csv", false, "write the result as CSV")
	fs.BoolVar(&flags.NoHeader, "no-header", false, "omit the header row")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")

	err := fs.Parse(args)
	return &flags, err
}

type Config struct {
	Host            string `toml:"host"`
	Token           string `toml:"token"`
	StreamURL       string `toml:"stream_url"`
	DownloadDir     string `toml:"download_dir"`
	ReplyTimeoutSec int    `toml:"reply_timeout_sec"`

	Instruments   []string          `toml:"instruments"`
	Fields        []string          `toml:"fields"`
	Start         string            `toml:"start"` // YYYY-MM-DD; empty = current values
	End           string            `toml:"end"`
	Period        string            `toml:"period"`
	Currency      string            `toml:"currency"`
	PricingSource string            `toml:"pricing_source"`
	Aliases       map[string]string `toml:"aliases"`
}

func parseConfig(confDir string) (*Config, error) {
	filePath := filepath.Join(confDir, "config.toml")
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sample := `host = "https://api.example.com/eap"
token = "YourSecretBearerToken"
instruments = ["CL1 Comdty"]
fields = ["PX_LAST"]
start = "2023-01-01"
end = "2023-06-30"
`
			err = errors.Annotate(err,
				"config file '%s' does not exist.\nPlease create config file containing:\n%s",
				filePath, sample)
			return nil, err
		} else {
			return nil, errors.Annotate(err,
				"cannot check config file for existence: '%s'", filePath)
		}
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", filePath)
	}
	defer f.Close()

	d := toml.NewDecoder(f)
	var c Config
	if err := d.Decode(&c); err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", filePath)
	}
	return &c, nil
}

func (c *Config) clientConfig() hapi.Config {
	return hapi.Config{
		Host:         c.Host,
		Token:        c.Token,
		StreamURL:    c.StreamURL,
		DownloadDir:  c.DownloadDir,
		ReplyTimeout: time.Duration(c.ReplyTimeoutSec) * time.Second,
	}
}

func (c *Config) query() (hapi.Query, error) {
	q := hapi.Query{
		Instruments:   c.Instruments,
		Fields:        c.Fields,
		Period:        c.Period,
		Currency:      c.Currency,
		PricingSource: c.PricingSource,
		Aliases:       c.Aliases,
	}
	var err error
	if c.Start != "" {
		if q.Start, err = dates.FromString(c.Start); err != nil {
			return q, errors.Annotate(err, "invalid start date '%s'", c.Start)
		}
	}
	if c.End != "" {
		if q.End, err = dates.FromString(c.End); err != nil {
			return q, errors.Annotate(err, "invalid end date '%s'", c.End)
		}
	}
	return q, nil
}

func run(ctx context.Context, flags *Flags, w io.Writer) error {
	config, err := parseConfig(flags.ConfDir)
	if err != nil {
		return errors.Annotate(err, "failed to parse config")
	}
	q, err := config.query()
	if err != nil {
		return errors.Annotate(err, "failed to build the query")
	}
	client, err := hapi.Dial(ctx, config.clientConfig())
	if err != nil {
		return errors.Annotate(err, "failed to connect to %s", config.Host)
	}
	defer client.Close()

	result, err := client.Fetch(ctx, q)
	if err != nil {
		return errors.Annotate(err, "failed to fetch data")
	}
	params := cube.WriteParams{NoHeader: flags.NoHeader}
	if flags.CSV {
		return cube.WriteCSV(w, result, params)
	}
	return cube.WriteText(w, result, params)
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := run(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
