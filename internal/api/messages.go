package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/helsenia/lunasync/internal/models"
)

// NameImage looks up the display name and avatar for a chat. The preview
// flag asks for the low-resolution avatar variant.
func (c *Client) NameImage(ctx context.Context, chatID string, preview bool) (models.NameImage, error) {
	body := map[string]any{"number": chatID, "preview": preview}
	data, err := c.do(ctx, http.MethodPost, "/api/name-image", body)
	if err != nil {
		return models.NameImage{}, err
	}

	var out models.NameImage
	if err := json.Unmarshal(data, &out); err != nil {
		return models.NameImage{}, fmt.Errorf("failed to decode name-image response: %w", err)
	}
	return out, nil
}

// previewTextAliases is the field order tried for the text of a message.
var previewTextAliases = []string{"text", "caption", "message.text", "message.conversation", "body"}

// messageTimestampAliases is the field order tried for a message timestamp.
var messageTimestampAliases = []string{"messageTimestamp", "timestamp", "t"}

// fromMePaths are the boolean fields that mark a message as sent by the
// account owner.
var fromMePaths = []string{"fromMe", "fromme", "from_me", "key.fromMe", "message.key.fromMe", "sender.fromMe"}

// IsFromMe applies the historical alias set for own-message detection.
func IsFromMe(raw []byte) bool {
	for _, p := range fromMePaths {
		if gjson.GetBytes(raw, p).Bool() {
			return true
		}
	}
	participant := gjson.GetBytes(raw, "participant").String()
	if strings.HasSuffix(strings.ToLower(participant), ":me") ||
		strings.HasSuffix(strings.ToLower(participant), "@s.whatsapp.net") {
		return true
	}
	if strings.HasPrefix(gjson.GetBytes(raw, "id").String(), "true_") {
		return true
	}
	return gjson.GetBytes(raw, "user").String() == "me"
}

// LastMessage fetches the most recent message of a chat for the list
// preview. The returned timestamp is the raw value from the record (any
// resolution); zero when absent. A chat with no messages returns an empty
// preview and no error.
func (c *Client) LastMessage(ctx context.Context, chatID string) (models.Preview, int64, error) {
	body := map[string]any{"chatid": chatID, "limit": 1, "sort": "-messageTimestamp"}
	data, err := c.do(ctx, http.MethodPost, "/api/messages", body)
	if err != nil {
		return models.Preview{}, 0, err
	}

	items := gjson.GetBytes(data, "items")
	if !items.IsArray() || len(items.Array()) == 0 {
		return models.Preview{}, 0, nil
	}
	last := items.Array()[0]

	var text string
	for _, alias := range previewTextAliases {
		if v := last.Get(alias); v.Exists() && v.String() != "" {
			text = v.String()
			break
		}
	}
	text = strings.Join(strings.Fields(text), " ")

	var ts int64
	for _, alias := range messageTimestampAliases {
		if v := last.Get(alias); v.Exists() && v.Int() != 0 {
			ts = v.Int()
			break
		}
	}

	return models.Preview{
		Text:   text,
		FromMe: IsFromMe([]byte(last.Raw)),
	}, ts, nil
}
