package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestPreviousClosesResolvesSymbols(t *testing.T) {
	closes := map[string]float64{"AAPL": 140.5, "MSFT": 300}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		fmt.Fprintf(w, `{"c":0,"pc":%g}`, closes[symbol])
	}))
	defer srv.Close()

	q := newQuoteClient(srv.URL, "test-key", clockwork.NewRealClock())

	out := q.PreviousCloses(context.Background(), []string{"AAPL", "MSFT"})
	assert.Equal(t, closes, out)
}

func TestQuoteBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := newQuoteClient(srv.URL, "test-key", clockwork.NewRealClock())

	// Five failures trip the breaker; everything after is rejected without
	// touching the endpoint.
	out := q.PreviousCloses(context.Background(), []string{"A", "B", "C", "D", "E", "F", "G"})
	assert.Empty(t, out)
	assert.Equal(t, int64(5), hits.Load())
}

func TestPreviousClosesSkipsUnusableQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "GOOD":
			fmt.Fprint(w, `{"c":10,"pc":9.5}`)
		case "ZERO":
			fmt.Fprint(w, `{"c":10,"pc":0}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	q := newQuoteClient(srv.URL, "test-key", clockwork.NewRealClock())

	out := q.PreviousCloses(context.Background(), []string{"GOOD", "ZERO", "BROKEN"})
	assert.Equal(t, map[string]float64{"GOOD": 9.5}, out)
}
