// Copyright 2026 The Mila Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_WebhookAcceptsAndProcesses(t *testing.T) {
	responder := &stubResponder{reply: "We open at 8am."}
	gw, recorder := newTestGateway(t, responder, 10)
	srv := httptest.NewServer(NewServer(gw, nil, nil).Handler())
	defer srv.Close()

	payload := `{"messages":[{"sender":"alice","recipient":"+491111","body":"When do you open?"}]}`
	resp, err := http.Post(srv.URL+"/webhook/messages", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Messages are processed asynchronously behind the 202.
	require.Eventually(t, func() bool {
		return len(recorder.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "We open at 8am.", recorder.all()[0])
}

func TestServer_WebhookRejectsGarbage(t *testing.T) {
	gw, _ := newTestGateway(t, &stubResponder{reply: "x"}, 10)
	srv := httptest.NewServer(NewServer(gw, nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhook/messages", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	gw, _ := newTestGateway(t, &stubResponder{reply: "x"}, 10)
	srv := httptest.NewServer(NewServer(gw, nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}
