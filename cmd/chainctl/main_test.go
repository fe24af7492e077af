package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubNode(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{
			"index": 0, "previousHash": "0", "timestamp": 1465154705,
			"data": "my genesis block!!", "hash": "816534932c2b7154836da6afc367695e6337db8a921823784c14378abed4f7d7",
		}})
	})
	mux.HandleFunc("/addPeer", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"connecting"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	nodeURL, adminToken, outFormat = "", "", "text"
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBlocksCommand(t *testing.T) {
	srv := stubNode(t)

	out, err := execute(t, "--node", srv.URL, "blocks")
	require.NoError(t, err)
	assert.Contains(t, out, "my genesis block!!")
	assert.Contains(t, out, "8165349")
}

func TestAddPeerCommand(t *testing.T) {
	srv := stubNode(t)

	out, err := execute(t, "--node", srv.URL, "add-peer", "ws://a:6001", "ws://b:6001")
	require.NoError(t, err)
	assert.Contains(t, out, "connecting to ws://a:6001")
	assert.Contains(t, out, "connecting to ws://b:6001")

	_, err = execute(t, "--node", srv.URL, "add-peer", "http://a:6001")
	assert.Error(t, err, "non-websocket address must be refused")
}

func TestBlockCommand_badIndex(t *testing.T) {
	_, err := execute(t, "block", "abc")
	assert.Error(t, err)
}
