package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlekbai/entityql/internal/handler"
	"github.com/atlekbai/entityql/internal/schema/schematest"
	"github.com/atlekbai/entityql/internal/service"
	"github.com/atlekbai/entityql/internal/translate"
)

func TestServe(t *testing.T) {
	cache := schematest.Shop()
	logger := slog.New(slog.DiscardHandler)
	h := handler.New(service.NewTranslateService(translate.New(cache), logger), cache, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(ln.Addr().String(), h, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, ln, logger) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/v1/translate", "application/json",
		strings.NewReader(`{"query": "Tag | select(.Name)"}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), `\"shop\".\"tags\"`)

	resp, err = http.Get("http://" + ln.Addr().String() + "/v1/translate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}
