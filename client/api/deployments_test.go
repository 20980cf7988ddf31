// Copyright 2024 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendersoftware/mender-updateclient/datastore"
	"github.com/mendersoftware/mender-updateclient/eventloop"
)

// inlineLoop runs posted work immediately on the caller's goroutine. It is
// enough to prove CheckNewDeployments schedules the v1 fallback through the
// Scheduler rather than calling it inline from the v2 handler's own frame;
// reentrancy itself is exercised by the real eventloop.Loop in
// TestCheckNewDeploymentsV2ToV1FallbackOnRealLoop.
type inlineLoop struct{ posted int }

func (l *inlineLoop) Post(fn func()) {
	l.posted++
	fn()
}

func TestCheckNewDeploymentsMissingArtifactName(t *testing.T) {
	var gotErr error
	CheckNewDeployments(http.DefaultClient, &inlineLoop{}, "http://example.com", "qemux86-64",
		datastore.ProvidesMap{}, func(body []byte, err error) {
			gotErr = err
		})
	require.Error(t, gotErr)
}

func TestCheckNewDeploymentsV2Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, deploymentsNextPathV2, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body checkUpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qemux86-64", body.DeviceProvides["device_type"])
		assert.Equal(t, "release-1", body.DeviceProvides["artifact_name"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"d1"}`))
	}))
	defer srv.Close()

	var gotBody []byte
	var gotErr error
	CheckNewDeployments(http.DefaultClient, &inlineLoop{}, srv.URL, "qemux86-64",
		datastore.ProvidesMap{"artifact_name": "release-1"},
		func(body []byte, err error) {
			gotBody, gotErr = body, err
		})

	require.NoError(t, gotErr)
	assert.JSONEq(t, `{"id":"d1"}`, string(gotBody))
}

func TestCheckNewDeploymentsV2NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var called bool
	var gotBody []byte
	var gotErr error
	CheckNewDeployments(http.DefaultClient, &inlineLoop{}, srv.URL, "qemux86-64",
		datastore.ProvidesMap{"artifact_name": "release-1"},
		func(body []byte, err error) {
			called = true
			gotBody, gotErr = body, err
		})

	assert.True(t, called)
	assert.NoError(t, gotErr)
	assert.Nil(t, gotBody)
}

func TestCheckNewDeploymentsV2ToV1Fallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case deploymentsNextPathV2:
			w.WriteHeader(http.StatusNotFound)
		case deploymentsNextPathV1:
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "release-1", r.URL.Query().Get("artifact_name"))
			assert.Equal(t, "qemux86-64", r.URL.Query().Get("device_type"))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"d1"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	loop := &inlineLoop{}
	var gotBody []byte
	var gotErr error
	CheckNewDeployments(http.DefaultClient, loop, srv.URL, "qemux86-64",
		datastore.ProvidesMap{"artifact_name": "release-1"},
		func(body []byte, err error) {
			gotBody, gotErr = body, err
		})

	require.NoError(t, gotErr)
	assert.JSONEq(t, `{"id":"d1"}`, string(gotBody))
	assert.Equal(t, 1, loop.posted, "the v1 fallback must be scheduled through the Scheduler")
}

// TestCheckNewDeploymentsV2ToV1FallbackOnRealLoop exercises the fallback
// against the real eventloop.Loop, driven from its own goroutine, to prove
// the handoff actually works across goroutines and not just as a direct
// call dressed up as Post.
func TestCheckNewDeploymentsV2ToV1FallbackOnRealLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case deploymentsNextPathV2:
			w.WriteHeader(http.StatusNotFound)
		case deploymentsNextPathV1:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"d1"}`))
		}
	}))
	defer srv.Close()

	loop := eventloop.New()
	go loop.Run()
	defer loop.Stop()

	done := make(chan struct{})
	var gotBody []byte
	var gotErr error
	loop.Post(func() {
		CheckNewDeployments(http.DefaultClient, loop, srv.URL, "qemux86-64",
			datastore.ProvidesMap{"artifact_name": "release-1"},
			func(body []byte, err error) {
				gotBody, gotErr = body, err
				close(done)
			})
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for CheckNewDeployments to complete")
	}

	require.NoError(t, gotErr)
	assert.JSONEq(t, `{"id":"d1"}`, string(gotBody))
}

func TestCheckNewDeploymentsBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"server exploded"}`))
	}))
	defer srv.Close()

	var gotErr error
	CheckNewDeployments(http.DefaultClient, &inlineLoop{}, srv.URL, "qemux86-64",
		datastore.ProvidesMap{"artifact_name": "release-1"},
		func(body []byte, err error) {
			gotErr = err
		})

	require.Error(t, gotErr)
	var bre *BadResponseError
	require.ErrorAs(t, gotErr, &bre)
	assert.Equal(t, "server exploded", bre.Message)
}
