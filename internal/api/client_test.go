package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginAndRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case TokenPath:
			if body["username"] != "alice" || body["password"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"No active account found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access":"acc","refresh":"ref"}`))
		case TokenRefreshPath:
			assert.Equal(t, "ref", body["refresh"])
			_, _ = w.Write([]byte(`{"access":"acc2"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL + "/"})
	tokens, err := client.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, Tokens{Access: "acc", Refresh: "ref"}, tokens)

	access, err := client.Refresh(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, "acc2", access)

	_, err = client.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Equal(t, TokenPath, statusErr.Path)
	assert.Contains(t, err.Error(), "No active account found")
	assert.True(t, IsUnauthorized(err))
}

func TestPingSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	require.NoError(t, client.Ping(context.Background(), "good"))
	err := client.Ping(context.Background(), "bad")
	assert.True(t, IsUnauthorized(err))
}

func TestFetchTransactionsArray(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TransactionsPath, r.URL.Path)
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`[{"id_collecte":1,"csp_lbl":"Employes"},{"id_collecte":2}]`))
	}))
	defer srv.Close()

	params := url.Values{}
	params.Set("date_collecte__gte", "2023-01-01")
	records, err := New(Config{BaseURL: srv.URL}).FetchTransactions(context.Background(), "tok", params)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.JSONEq(t, `"Employes"`, string(records[0]["csp_lbl"]))
	assert.Equal(t, "2023-01-01", gotQuery.Get("date_collecte__gte"))
}

func TestFetchTransactionsFollowsPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"next":null,"results":[{"id_collecte":3}]}`))
			return
		}
		next := fmt.Sprintf("%s%s?page=2", srv.URL, TransactionsPath)
		_, _ = fmt.Fprintf(w, `{"next":%q,"results":[{"id_collecte":1},{"id_collecte":2}]}`, next)
	}))
	defer srv.Close()

	records, err := New(Config{BaseURL: srv.URL}).FetchTransactions(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestFetchTransactionsStopsOnPageCycle(t *testing.T) {
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		page := "b"
		if r.URL.Query().Get("page") == "b" {
			page = "a"
		}
		next := fmt.Sprintf("%s%s?page=%s", srv.URL, TransactionsPath, page)
		_, _ = fmt.Fprintf(w, `{"next":%q,"results":[{"id_collecte":%d}]}`, next, hits.Load())
	}))
	defer srv.Close()

	params := url.Values{"page": {"a"}}
	records, err := New(Config{BaseURL: srv.URL}).FetchTransactions(context.Background(), "", params)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchTransactionsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).FetchTransactions(context.Background(), "tok", nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.False(t, IsUnauthorized(err))
}

func TestTimeoutApplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	err := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}).Ping(context.Background(), "tok")
	assert.Error(t, err)
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New(Config{}).BaseURL())
}
