package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cvnchain/crypto"
	"cvnchain/native/governance"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseParamFlags(t *testing.T) {
	got, err := parseParamFlags([]string{"nBlockSpacing=240", " nDustThreshold = 10 "})
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"nBlockSpacing": 240, "nDustThreshold": 10}, got)

	_, err = parseParamFlags([]string{"nBlockSpacing"})
	require.Error(t, err)
	_, err = parseParamFlags([]string{"nBlockSpacing=abc"})
	require.Error(t, err)
}

func TestKeygenThenSignProducesVerifiableToken(t *testing.T) {
	t.Setenv(adminPassEnv, "correct horse")
	path := filepath.Join(t.TempDir(), "admin.keystore")

	out, err := execute(t, "keygen", "--keystore", path)
	require.NoError(t, err)
	var generated map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &generated))
	pubKey, err := hex.DecodeString(generated["pubKey"])
	require.NoError(t, err)

	hash := governance.Hash{0x42}
	out, err = execute(t, "sign", hash.Hex(), "--keystore", path, "--admin-id", "0x0a")
	require.NoError(t, err)
	signer, sig, err := governance.ParseSignatureToken(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, uint32(10), signer)
	require.True(t, crypto.VerifySignature(hash.Bytes(), pubKey, sig))
}

func TestAddCallsNodeWithAuth(t *testing.T) {
	var (
		gotAuth   string
		gotMethod string
		gotParams []map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Method string                   `json:"method"`
			Params []map[string]interface{} `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMethod = req.Method
		gotParams = req.Params
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"hash":"0xabc","state":"hashable"}}`))
	}))
	defer srv.Close()

	out, err := execute(t, "--rpc", srv.URL, "--token", "secret", "add", "--id", "06", "--pubkey", "02aa", "--param", "nBlockSpacing=240")
	require.NoError(t, err)
	require.Contains(t, out, `"hashable"`)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "cvn_add", gotMethod)
	require.Len(t, gotParams, 1)
	require.Equal(t, "c", gotParams[0]["type"])
	require.Equal(t, "06", gotParams[0]["id"])
	require.NotContains(t, gotParams[0], "signatures")
}

func TestMutatingCallRequiresToken(t *testing.T) {
	t.Setenv(rpcTokenEnv, "")
	_, err := execute(t, "--rpc", "http://127.0.0.1:1", "remove", "--id", "06")
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires --token")
}

func TestNodeErrorIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32010,"message":"governance: signature verification failed"}}`))
	}))
	defer srv.Close()

	_, err := execute(t, "--rpc", srv.URL, "--token", "secret", "remove", "--id", "06", "--sig", "0a:00")
	require.Error(t, err)
	var rpcErr *rpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32010, rpcErr.Code)
}
