package api

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helsenia/lunasync/internal/stage"
)

func testJWT(t *testing.T, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding.EncodeToString
	return enc([]byte(`{"alg":"HS256"}`)) + "." + enc([]byte(payload)) + ".sig"
}

func TestInstanceIDFromJWT(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "instance_id wins", payload: `{"instance_id":"i1","sub":"s1"}`, want: "i1"},
		{name: "phone_number_id next", payload: `{"phone_number_id":"p1","sub":"s1"}`, want: "p1"},
		{name: "pnid next", payload: `{"pnid":"n1","sub":"s1"}`, want: "n1"},
		{name: "sub last", payload: `{"sub":"s1"}`, want: "s1"},
		{name: "nothing", payload: `{}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, instanceIDFromJWT(testJWT(t, tt.payload)))
		})
	}
}

func TestInstanceIDFromMalformedToken(t *testing.T) {
	assert.Empty(t, instanceIDFromJWT("not-a-jwt"))
	assert.Empty(t, instanceIDFromJWT(""))
}

func TestAuthHeaders(t *testing.T) {
	var gotAuth, gotInstance string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotInstance = r.Header.Get("x-instance-id")
		w.Write([]byte(`{"name":"Maria"}`))
	}))
	defer srv.Close()

	token := testJWT(t, `{"instance_id":"inst-7"}`)
	c := NewClient(srv.URL, token, zap.NewNop())

	_, err := c.NameImage(context.Background(), "123@s.whatsapp.net", true)
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+token, gotAuth)
	assert.Equal(t, "inst-7", gotInstance)
}

func TestLeadStatusBulkFirstShapeWins(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Write([]byte(`{"items":[{"chatid":"a","stage":"lead"},{"id":"b","status":"LEAD_QUENTE"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	results, err := c.LeadStatusBulk(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/lead-status/bulk"}, paths, "first shape succeeded, no further attempts")
	assert.Equal(t, []stage.Result{
		{ChatID: "a", Stage: "lead"},
		{ChatID: "b", Stage: "LEAD_QUENTE"},
	}, results)
}

func TestLeadStatusBulkFallsThroughShapes(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.URL.Path+" "+string(body))
		n := len(bodies)
		mu.Unlock()
		if n < 3 {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		// Third shape: body key "ids", list under "data".
		w.Write([]byte(`{"data":[{"number":"a","_stage":"contato novo"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	results, err := c.LeadStatusBulk(context.Background(), []string{"a"})
	require.NoError(t, err)

	require.Len(t, bodies, 3)
	assert.Contains(t, bodies[0], `"chatids"`)
	assert.Contains(t, bodies[1], `"chatids"`)
	assert.Contains(t, bodies[2], `"ids"`)
	assert.Equal(t, []stage.Result{{ChatID: "a", Stage: "contato novo"}}, results)
}

func TestLeadStatusBulkMalformedBodyIsAFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`)) // no items/data list anywhere
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	_, err := c.LeadStatusBulk(context.Background(), []string{"a"})
	assert.Error(t, err)
}

func TestLeadStatusSingleFallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Error(w, "nope", http.StatusMethodNotAllowed)
			return
		}
		assert.Equal(t, "abc", r.URL.Query().Get("chatid"))
		w.Write([]byte(`{"status":"lead"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	raw, err := c.LeadStatusSingle(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "lead", raw)
}

func TestLeadStatusSingleAllShapesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	_, err := c.LeadStatusSingle(context.Background(), "abc")
	assert.Error(t, err)
}

func TestLastMessageAliases(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantText string
		wantFrom bool
		wantTS   int64
	}{
		{
			name:     "plain text",
			body:     `{"items":[{"text":"hello   world","messageTimestamp":1700000000123}]}`,
			wantText: "hello world",
			wantTS:   1700000000123,
		},
		{
			name:     "nested conversation",
			body:     `{"items":[{"message":{"conversation":"oi"},"timestamp":1700000000}]}`,
			wantText: "oi",
			wantTS:   1700000000,
		},
		{
			name:     "caption with fromMe",
			body:     `{"items":[{"caption":"pic","key":{"fromMe":true},"t":42}]}`,
			wantText: "pic",
			wantFrom: true,
			wantTS:   42,
		},
		{
			name: "empty items",
			body: `{"items":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", zap.NewNop())
			pv, ts, err := c.LastMessage(context.Background(), "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, pv.Text)
			assert.Equal(t, tt.wantFrom, pv.FromMe)
			assert.Equal(t, tt.wantTS, ts)
		})
	}
}

func TestIsFromMe(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{name: "top-level fromMe", raw: `{"fromMe":true}`, want: true},
		{name: "snake case", raw: `{"from_me":true}`, want: true},
		{name: "nested key", raw: `{"message":{"key":{"fromMe":true}}}`, want: true},
		{name: "participant me suffix", raw: `{"participant":"5511999:me"}`, want: true},
		{name: "id prefix", raw: `{"id":"true_ABC"}`, want: true},
		{name: "user me", raw: `{"user":"me"}`, want: true},
		{name: "not me", raw: `{"fromMe":false,"user":"them"}`, want: false},
		{name: "empty", raw: `{}`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFromMe([]byte(tt.raw)))
		})
	}
}

func TestCRMViews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/crm/views", r.URL.Path)
		w.Write([]byte(`{"counts":{"novo":3,"fechou":1}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	counts, err := c.CRMViews(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"novo": 3, "fechou": 1}, counts)
}

func TestCRMListBackfillsChatID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[
			{"chat":{"wa_chatid":"a","name":"A"},"crm":{"chatid":"a"}},
			{"chat":{"name":"B"},"crm":{"chatid":"b@s.whatsapp.net"}},
			{"crm":{"chatid":"orphan"}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	chats, err := c.CRMList(context.Background(), "novo", 100, 0)
	require.NoError(t, err)
	require.Len(t, chats, 2, "items without a chat payload are dropped")

	assert.Contains(t, string(chats[0]), `"wa_chatid":"a"`)
	assert.Contains(t, string(chats[1]), `"wa_chatid":"b@s.whatsapp.net"`)
}

func TestChatStreamSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	_, err := c.ChatStream(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
