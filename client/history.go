package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cydxin/clinic-realtime/message"
)

// HistoryFetcher 拉取与 peer 之间的全部权威消息
type HistoryFetcher interface {
	History(ctx context.Context, peerID uint64) ([]message.NewMessage, error)
}

// HTTPHistory 通过 GET /api/v1/messages?peer_id= 拉取历史
type HTTPHistory struct {
	BaseURL string // 例如 http://host
	Token   string
	Client  *http.Client
}

type historyResponse struct {
	Code int                  `json:"code"`
	Msg  string               `json:"msg"`
	Data []message.NewMessage `json:"data"`
}

func (h *HTTPHistory) History(ctx context.Context, peerID uint64) ([]message.NewMessage, error) {
	u, err := url.Parse(strings.TrimRight(h.BaseURL, "/") + "/api/v1/messages")
	if err != nil {
		return nil, fmt.Errorf("history: invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("peer_id", strconv.FormatUint(peerID, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	hc := h.Client
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("history: decode (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || body.Code != 0 {
		return nil, fmt.Errorf("history: status %d code %d: %s", resp.StatusCode, body.Code, body.Msg)
	}
	return body.Data, nil
}
