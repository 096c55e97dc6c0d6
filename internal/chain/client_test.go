package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moveflow/vault-engine/internal/contract"
)

func testFunction(t *testing.T) contract.Function {
	t.Helper()
	fn, err := contract.ParseFunction("0x1::vault::get_vault_info")
	require.NoError(t, err)
	return fn
}

func TestClient_FallsBackOnServerError(t *testing.T) {
	var primaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["42"]`))
	}))
	defer backup.Close()

	c := NewClient(time.Second, primary.URL, backup.URL+"/")
	out, err := c.View(context.Background(), testFunction(t), nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.JSONEq(t, `"42"`, string(out[0]))
	assert.Equal(t, int32(1), primaryHits.Load())
}

func TestClient_ClientErrorSkipsFallback(t *testing.T) {
	var backupHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Move abort","error_code":"invalid_input","vm_error_code":4016}`))
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupHits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer backup.Close()

	c := NewClient(time.Second, primary.URL, backup.URL)
	_, err := c.View(context.Background(), testFunction(t), nil)
	require.Error(t, err)

	var ne *NodeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusBadRequest, ne.Status)
	assert.Equal(t, "invalid_input", ne.ErrorCode)
	require.NotNil(t, ne.VMErrorCode)
	assert.Equal(t, 4016, *ne.VMErrorCode)
	assert.Equal(t, int32(0), backupHits.Load())
}

func TestClient_SendsEmptyArraysNotNull(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewClient(time.Second, srv.URL).View(context.Background(), testFunction(t), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(got["type_arguments"]))
	assert.JSONEq(t, `[]`, string(got["arguments"]))
}

func TestClient_NoEndpoints(t *testing.T) {
	_, err := NewClient(time.Second, " ").View(context.Background(), testFunction(t), nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&NodeError{Status: http.StatusNotFound}))
	assert.False(t, IsNotFound(&NodeError{Status: http.StatusBadRequest}))
	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestDecode_U64AcceptsStringsAndNumbers(t *testing.T) {
	v := values{json.RawMessage(`"18446744073709551615"`), json.RawMessage(`7`), json.RawMessage(`"-1"`), json.RawMessage(`true`)}

	n, err := v.u64(0)
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", n.String())

	n, err = v.u64(1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.Int64())

	_, err = v.u64(2)
	assert.ErrorIs(t, err, ErrDecode)
	_, err = v.u64(3)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = v.small(0)
	assert.ErrorIs(t, err, ErrDecode)
}
