package vac

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLayerBody(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/layer", r.URL.Path)
		var body map[string]map[string]string
		jsonBody(t, r, &body)
		assert.Equal(t, "sci-py", body["layer"]["name"])
		w.Write([]byte(`{"status":"ok"}`))
	}))

	require.NoError(t, c.CreateLayer(context.Background(), "sci-py"))
}

func TestLayerLookup(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "sci-py" {
			w.Write([]byte(`{"layers":[{"name":"sci-py","size":1024}]}`))
			return
		}
		w.Write([]byte(`{"layers":[]}`))
	}))

	l, err := c.Layer(context.Background(), "sci-py")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), l.Size)

	_, err = c.Layer(context.Background(), "gone")
	assert.ErrorContains(t, err, `could not find layer "gone"`)
}

// A modification session is a sleeping job holding the layer mounted
// read-write; Snapshot kills it and waits for it to finish.
func TestLayerModifySession(t *testing.T) {
	var killed int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/job":
			var body struct {
				Jobs []jobRequest `json:"jobs"`
			}
			jsonBody(t, r, &body)
			require.Len(t, body.Jobs, 1)
			job := body.Jobs[0]
			assert.Equal(t, "sleep 1800", job.Cmd)
			assert.Equal(t, "sci-py", job.Layer)
			assert.True(t, job.LayerRW)
			assert.Equal(t, []string{"staging"}, job.Volumes)
			w.Write([]byte(`{"jids":[21]}`))

		case r.Method == http.MethodPost && r.URL.Path == "/job/kill":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "21", r.PostForm.Get("jid"))
			atomic.StoreInt32(&killed, 1)
			w.Write([]byte(`{"status":"ok"}`))

		case r.Method == http.MethodGet && r.URL.Path == "/job":
			status := StatusProcessing
			if atomic.LoadInt32(&killed) == 1 {
				status = StatusKilled
			}
			job := &Job{JID: 21, Status: status}
			require.NoError(t, json.NewEncoder(w).Encode(map[string][]*Job{"jobs": {job}}))

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	layer := &Layer{Name: "sci-py", client: c}
	session, err := layer.Modify(context.Background(), 1800, "staging")
	require.NoError(t, err)
	assert.Equal(t, int64(21), session.JID)
	assert.Equal(t, StatusProcessing, session.Status)

	require.NoError(t, session.Snapshot(context.Background()))
	assert.Equal(t, StatusKilled, session.Status)
}

func TestLayerModifyDefaultRuntime(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Jobs []jobRequest `json:"jobs"`
			}
			jsonBody(t, r, &body)
			assert.Equal(t, "sleep 3600", body.Jobs[0].Cmd)
			w.Write([]byte(`{"jids":[22]}`))
		default:
			job := &Job{JID: 22, Status: StatusProcessing}
			require.NoError(t, json.NewEncoder(w).Encode(map[string][]*Job{"jobs": {job}}))
		}
	}))

	layer := &Layer{Name: "base", client: c}
	_, err := layer.Modify(context.Background(), 0)
	require.NoError(t, err)
}
