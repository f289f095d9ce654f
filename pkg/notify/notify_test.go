package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	titles []string
	err    error
}

func (r *recorder) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func TestServiceFansOutAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	s := NewService(ok, nil, bad)

	require.True(t, s.Enabled())
	err := s.Send(context.Background(), "tick failed", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, []string{"tick failed"}, ok.titles)
	assert.Equal(t, []string{"tick failed"}, bad.titles)
}

func TestNilServiceIsDisabled(t *testing.T) {
	var s *Service
	assert.False(t, s.Enabled())
	assert.NoError(t, s.Send(context.Background(), "t", "m"))
	assert.False(t, NewService().Enabled())
}

func TestSlackPostsBlocks(t *testing.T) {
	var got slackMsg
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewSlackWithURL("xoxb-1", "#alerts", srv.URL)
	require.NoError(t, s.Send(context.Background(), "trade executed", "*bot* sig"))

	assert.Equal(t, "Bearer xoxb-1", auth)
	assert.Equal(t, "#alerts", got.Channel)
	assert.Equal(t, "trade executed", got.Text)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, "mrkdwn", got.Blocks[0].Text.Type)
	assert.Equal(t, "*bot* sig", got.Blocks[0].Text.Text)
}

func TestSlackReportsApiError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	err := NewSlackWithURL("t", "#x", srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestTelegramSendsToChat(t *testing.T) {
	var sentChat, sentText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"ralph","username":"ralph_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			sentChat = r.PostForm.Get("chat_id")
			sentText = r.PostForm.Get("text")
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegramWithEndpoint("123:abc", 42, srv.URL+"/bot%s/%s")
	require.NoError(t, err)
	require.NoError(t, tg.Send(context.Background(), "tick failed", "bot-1: boom"))

	assert.Equal(t, "42", sentChat)
	assert.Equal(t, "tick failed\nbot-1: boom", sentText)
}

func TestTelegramRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := NewTelegramWithEndpoint("bad", 1, srv.URL+"/bot%s/%s")
	require.Error(t, err)
}
