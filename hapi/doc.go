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

// Package hapi implements the asynchronous retrieval client for the remote
// market-data HTTP API.
//
// The service publishes resources under an account-scoped catalog. One fetch
// provisions three of them - a Universe (the instruments), a FieldList (the
// field mnemonics and their declared types) and a Request binding the two to
// a trigger - then blocks on the push-notification stream until the service
// reports the matching delivery, downloads the gzip-compressed payload, and
// hands it to the wire and cube packages for decoding and shaping.
//
// A Client is an explicit handle owning the authenticated HTTP session and
// the notification stream; both are created in Dial and shared by every
// call. The client supports ONE outstanding fetch at a time: the stream is a
// shared resource, and a second concurrent fetch may consume the first one's
// delivery event. Callers needing concurrency must serialize calls or use
// independent clients.
//
// Universe and FieldList resources describing a single alphanumeric item get
// deterministic identifiers and are transparently reused across calls;
// everything else is identified by a microsecond timestamp. Request
// resources are always created fresh.
package hapi
