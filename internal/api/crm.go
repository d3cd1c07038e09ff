package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// CRMStages is the fixed CRM funnel, distinct from the lead pipeline.
var CRMStages = []string{"novo", "sem_resposta", "interessado", "em_negociacao", "fechou", "descartado"}

// CRMViews returns the per-stage chat counts.
func (c *Client) CRMViews(ctx context.Context) (map[string]int, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/crm/views", nil)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(CRMStages))
	gjson.GetBytes(data, "counts").ForEach(func(key, value gjson.Result) bool {
		counts[key.String()] = int(value.Int())
		return true
	})
	return counts, nil
}

// CRMList pages through the chats assigned to one CRM stage. Each item's
// chat payload is returned raw; a missing wa_chatid is backfilled from the
// CRM record's own chatid.
func (c *Client) CRMList(ctx context.Context, stage string, limit, offset int) ([]json.RawMessage, error) {
	qs := url.Values{}
	qs.Set("stage", stage)
	qs.Set("limit", strconv.Itoa(limit))
	qs.Set("offset", strconv.Itoa(offset))

	data, err := c.do(ctx, http.MethodGet, "/api/crm/list?"+qs.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var chats []json.RawMessage
	gjson.GetBytes(data, "items").ForEach(func(_, item gjson.Result) bool {
		chat := item.Get("chat")
		if !chat.Exists() {
			return true
		}
		raw := []byte(chat.Raw)
		if !chat.Get("wa_chatid").Exists() {
			if cid := item.Get("crm.chatid"); cid.Exists() {
				if patched, err := sjsonSet(raw, "wa_chatid", cid.String()); err == nil {
					raw = patched
				}
			}
		}
		chats = append(chats, json.RawMessage(raw))
		return true
	})
	return chats, nil
}

// sjsonSet is a minimal field injection for the wa_chatid backfill; the
// chat payload is always a JSON object here.
func sjsonSet(obj []byte, key, value string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(obj, &m); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	m[key] = encoded
	return json.Marshal(m)
}

// CRMSetStatus assigns a CRM stage (with optional notes) to a chat.
func (c *Client) CRMSetStatus(ctx context.Context, chatID, stage, notes string) error {
	body := map[string]string{"chatid": chatID, "stage": stage, "notes": notes}
	_, err := c.do(ctx, http.MethodPost, "/api/crm/status", body)
	return err
}

// CRMSync asks the backend to refresh its CRM projection. Best-effort: a
// failure is logged and swallowed, matching its fire-and-forget role after
// a chat load.
func (c *Client) CRMSync(ctx context.Context, limit int) {
	if _, err := c.do(ctx, http.MethodPost, "/api/crm/sync", map[string]int{"limit": limit}); err != nil {
		c.logger.Warn("CRM sync failed", zap.Error(err))
	}
}
