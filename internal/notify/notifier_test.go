package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{EventOutbid}, discardLogger())

	check.Nil(t, n.Notify(context.Background(), EventListingSold, "sold", "m"))
	check.Equal(t, 0, len(rec.titles))

	check.Nil(t, n.Notify(context.Background(), EventOutbid, "outbid", "m"))
	check.Equal(t, []string{"outbid"}, rec.titles)
}

func TestNotifierEmptyFilterAllowsEverything(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, discardLogger())

	check.Nil(t, n.Notify(context.Background(), EventOrderUpdated, "updated", "m"))
	check.Equal(t, 1, len(rec.titles))
}

func TestNotifierCollectsSenderFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	assert.NotNil(t, err)
	check.True(t, strings.Contains(err.Error(), "bad: boom"))

	// The failing sender must not block delivery to the healthy one.
	check.Equal(t, 1, len(good.titles))
}

func TestWebhookSenderPostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check.Equal(t, http.MethodPost, r.Method)
		check.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		check.True(t, strings.Contains(string(body), `"title":"t"`))
		check.True(t, strings.Contains(string(body), `"message":"m"`))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	check.Nil(t, s.Send(context.Background(), "t", "m"))
}

func TestWebhookSenderRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	err := s.Send(context.Background(), "t", "m")
	assert.NotNil(t, err)
	check.True(t, strings.Contains(err.Error(), "502"))
}

func TestWebhookSenderForwardsRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		check.True(t, strings.Contains(string(body), `"recipient":"alice@example.com"`))
		check.True(t, strings.Contains(string(body), `"message":"you were outbid"`))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	check.Nil(t, s.Send(context.Background(), "t", To("alice@example.com", "you were outbid")))
}

func TestToRoundTripsThroughSplitRecipient(t *testing.T) {
	to, body := splitRecipient(To("bob@example.com", "order shipped"))
	check.Equal(t, "bob@example.com", to)
	check.Equal(t, "order shipped", body)

	// No recipient: the envelope is a no-op.
	check.Equal(t, "plain", To("", "plain"))
}

func TestSplitRecipient(t *testing.T) {
	to, body := splitRecipient("to:alice@example.com\nyou were outbid")
	check.Equal(t, "alice@example.com", to)
	check.Equal(t, "you were outbid", body)

	to, body = splitRecipient("plain message")
	check.Equal(t, "", to)
	check.Equal(t, "plain message", body)

	to, body = splitRecipient("to: bob@example.com")
	check.Equal(t, "bob@example.com", to)
	check.Equal(t, "", body)
}
