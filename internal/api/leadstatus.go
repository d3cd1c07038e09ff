package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/helsenia/lunasync/internal/stage"
)

// The lead-status endpoints have gone through several namings. Each call
// tries the known shapes in priority order and takes the first well-formed
// answer. The tables below are the compatibility contract.

type bulkAttempt struct {
	Path    string
	BodyKey string
}

var bulkAttempts = []bulkAttempt{
	{Path: "/api/lead-status/bulk", BodyKey: "chatids"},
	{Path: "/api/lead_status/bulk", BodyKey: "chatids"},
	{Path: "/api/lead-status/bulk", BodyKey: "ids"},
	{Path: "/api/lead_status/bulk", BodyKey: "ids"},
}

// bulkListKeys are the response keys that may hold the result list.
var bulkListKeys = []string{"items", "data"}

// chatIDAliases and stageAliases are the per-item field namings accepted
// from any lead-status response.
var (
	chatIDAliases = []string{"chatid", "id", "number", "chatId"}
	stageAliases  = []string{"stage", "status", "_stage"}
)

type singleAttempt struct {
	Method string
	Path   string
	Query  bool
}

var singleAttempts = []singleAttempt{
	{Method: http.MethodPost, Path: "/api/lead-status"},
	{Method: http.MethodPost, Path: "/api/lead_status"},
	{Method: http.MethodGet, Path: "/api/lead-status", Query: true},
	{Method: http.MethodGet, Path: "/api/lead_status", Query: true},
}

func firstAlias(item gjson.Result, aliases []string) string {
	for _, a := range aliases {
		if v := item.Get(a); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// LeadStatusBulk classifies a batch of chats. It returns an error only when
// every request shape failed or returned a malformed body; a well-formed
// response that covers a subset of the ids is a success.
func (c *Client) LeadStatusBulk(ctx context.Context, chatIDs []string) ([]stage.Result, error) {
	var lastErr error
	for _, attempt := range bulkAttempts {
		body := map[string][]string{attempt.BodyKey: chatIDs}
		data, err := c.do(ctx, http.MethodPost, attempt.Path, body)
		if err != nil {
			lastErr = err
			continue
		}

		var list gjson.Result
		for _, key := range bulkListKeys {
			if v := gjson.GetBytes(data, key); v.IsArray() {
				list = v
				break
			}
		}
		if !list.IsArray() {
			lastErr = fmt.Errorf("bulk response from %s has no item list", attempt.Path)
			continue
		}

		var results []stage.Result
		list.ForEach(func(_, item gjson.Result) bool {
			results = append(results, stage.Result{
				ChatID: firstAlias(item, chatIDAliases),
				Stage:  firstAlias(item, stageAliases),
			})
			return true
		})
		return results, nil
	}
	return nil, fmt.Errorf("all bulk lead-status shapes failed: %w", lastErr)
}

// LeadStatusSingle classifies one chat, returning the raw stage label.
func (c *Client) LeadStatusSingle(ctx context.Context, chatID string) (string, error) {
	var lastErr error
	for _, attempt := range singleAttempts {
		var data []byte
		var err error
		if attempt.Query {
			path := attempt.Path + "?chatid=" + url.QueryEscape(chatID)
			data, err = c.do(ctx, attempt.Method, path, nil)
		} else {
			data, err = c.do(ctx, attempt.Method, attempt.Path, map[string]string{"chatid": chatID})
		}
		if err != nil {
			lastErr = err
			continue
		}

		if raw := firstAlias(gjson.ParseBytes(data), stageAliases); raw != "" {
			return raw, nil
		}
		c.logger.Debug("Lead-status response carried no stage label",
			zap.String("path", attempt.Path),
			zap.String("chatid", chatID))
		lastErr = fmt.Errorf("response from %s carried no stage label", attempt.Path)
	}
	return "", fmt.Errorf("all single lead-status shapes failed: %w", lastErr)
}
