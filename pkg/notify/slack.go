package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

const DefaultSlackURL = "https://slack.com/api/chat.postMessage"

type Slack struct {
	http    *req.Client
	url     string
	token   string
	channel string
}

func NewSlack(token, channel string) *Slack {
	return NewSlackWithURL(token, channel, DefaultSlackURL)
}

func NewSlackWithURL(token, channel, url string) *Slack {
	return &Slack{
		http:    req.C().SetTimeout(10 * time.Second),
		url:     url,
		token:   token,
		channel: channel,
	}
}

type slackMsg struct {
	Channel string       `json:"channel"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Slack) Send(ctx context.Context, title, msg string) error {
	body := slackMsg{
		Channel: s.channel,
		Text:    title,
		Blocks: []slackBlock{{
			Type: "section",
			Text: slackText{Type: "mrkdwn", Text: msg},
		}},
	}

	var out slackResult
	resp, err := s.http.R().
		SetContext(ctx).
		SetBearerAuthToken(s.token).
		SetBodyJsonMarshal(body).
		SetSuccessResult(&out).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("slack-request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack-failed: %d", resp.StatusCode)
	}
	if !out.OK {
		return errors.New("slack-failed: " + strings.TrimSpace(out.Error))
	}
	return nil
}
