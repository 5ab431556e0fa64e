package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"guildwatch/internal/transport"
	logx "guildwatch/pkg/logx"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"blocked", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, transport.ErrForbidden},
		{"rights", fmt.Errorf("telegram: Bad Request: not enough rights to send text messages to the chat (400)"), transport.ErrForbidden},
		{"chat", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, transport.ErrNotFound},
		{"edit", fmt.Errorf("telegram: Bad Request: message to edit not found (400)"), transport.ErrNotFound},
		{"flood", fmt.Errorf("telegram: Too Many Requests: retry after 5 (429)"), transport.ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			require.ErrorIs(t, got, tc.want)
			require.ErrorIs(t, got, tc.err)
		})
	}

	plain := errors.New("dial tcp: connection refused")
	got := Classify(plain)
	require.Equal(t, plain, got)
	require.NoError(t, Classify(fmt.Errorf("telegram: Bad Request: message is not modified (400)")))
	require.NoError(t, Classify(nil))
}

type botAPI struct {
	mu    sync.Mutex
	calls []string
	texts []string
	fail  string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	var params map[string]any
	_ = json.NewDecoder(r.Body).Decode(&params)

	b.mu.Lock()
	b.calls = append(b.calls, method)
	b.texts = append(b.texts, fmt.Sprint(params["text"]))
	fail := b.fail
	n := len(b.calls)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail != "" {
		fmt.Fprintf(w, `{"ok":false,"error_code":403,"description":%q}`, fail)
		return
	}
	fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":42,"type":"group"},"text":"x"}}`, 100+n)
}

func newTestSender(t *testing.T) (*Sender, *botAPI) {
	t.Helper()
	api := &botAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	s, err := New(Config{Token: "123:abc", APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	return s, api
}

func TestSendTextSplitsAndReturnsFirstRef(t *testing.T) {
	s, api := newTestSender(t)
	text := strings.Repeat("a", transport.TextLimit) + "\n" + "tail"

	ref, err := s.SendText(context.Background(), transport.ChatTarget{ChatID: 42, ThreadID: 7}, text, nil)
	require.NoError(t, err)
	require.Equal(t, transport.MessageRef{ChatID: 42, ThreadID: 7, MessageID: 101}, ref)
	require.Equal(t, []string{"sendMessage", "sendMessage"}, api.calls)
	require.Equal(t, "tail", api.texts[1])
}

func TestSendTextForbidden(t *testing.T) {
	s, api := newTestSender(t)
	api.fail = "Forbidden: bot was kicked from the group chat"

	_, err := s.SendText(context.Background(), transport.ChatTarget{ChatID: 42}, "hi", nil)
	require.ErrorIs(t, err, transport.ErrForbidden)
}

func TestEditText(t *testing.T) {
	s, api := newTestSender(t)
	err := s.EditText(context.Background(), transport.MessageRef{ChatID: 42, MessageID: 9}, "board", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"editMessageText"}, api.calls)
	require.Equal(t, "board", api.texts[0])
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	require.Error(t, err)
}
