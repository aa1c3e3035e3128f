package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/entitykit/internal/client"
	"github.com/HerbHall/entitykit/internal/entities"
	"github.com/HerbHall/entitykit/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseOptions(t *testing.T) {
	t.Setenv("ENTITYCTL_SERVER", "http://env:9000/")
	var stderr bytes.Buffer

	opts, err := parseOptions(nil, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "http://env:9000", opts.server)
	assert.Equal(t, client.DefaultLimit, opts.limit)

	opts, err = parseOptions([]string{"-server", "http://flag:1", "-limit", "25", "-watch"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "http://flag:1", opts.server)
	assert.Equal(t, 25, opts.limit)
	assert.True(t, opts.watch)

	_, err = parseOptions([]string{"-limit", "101"}, &stderr)
	assert.ErrorContains(t, err, "-limit must be between 1 and 100")

	_, err = parseOptions([]string{"-version"}, &stderr)
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, stderr.String(), "entityctl")
}

func TestResolveToken(t *testing.T) {
	origRead, origTerm := readPassword, isTerminal
	t.Cleanup(func() { readPassword, isTerminal = origRead, origTerm })

	tok, err := resolveToken("abc", os.Stdin, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	isTerminal = func(int) bool { return false }
	_, err = resolveToken("-", os.Stdin, &bytes.Buffer{})
	assert.ErrorContains(t, err, "requires a terminal")

	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return []byte(" secret \n"), nil }
	var stderr bytes.Buffer
	tok, err = resolveToken("-", os.Stdin, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "secret", tok)
	assert.Contains(t, stderr.String(), "Token: ")
}

func TestSessionAgainstServer(t *testing.T) {
	svc := entities.NewService(testutil.NewEntityRepo(t), nil, nil, nil)
	mux := http.NewServeMux()
	entities.NewHandler(svc, nil).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	api := client.New(ts.URL)
	_, err := api.Create(context.Background(), client.CreateRequest{Name: "first"})
	require.NoError(t, err)

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = session(ctx, api, options{limit: 10}, strings.NewReader("list\ndelete 1\ny\nquit\n"), &out, zap.NewNop())
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "Connected to "+ts.URL)
	assert.Contains(t, s, "first")
	assert.Contains(t, s, "Deleted entity 1.")
	assert.Contains(t, s, "No entities found.")
}
