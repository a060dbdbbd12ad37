package ai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/yuhaohwang/danmubot/src/configs"
)

func defaultFilter() configs.AIFilter {
	return configs.AIFilter{
		MinLength:       2,
		EmojiOnly:       true,
		NumbersOnly:     true,
		PunctuationOnly: true,
		RepeatedChars:   true,
	}
}

func TestShouldFilter(t *testing.T) {
	f := defaultFilter()
	cases := []struct {
		content string
		want    bool
	}{
		{"a", true},
		{"😀😀", true},
		{"[赞][比心]", true},
		{"12 34", true},
		{"？？！", true},
		{"哈哈哈", true},
		{"666666", true},
		{"这件衣服多少钱", false},
		{"有S码吗", false},
	}
	for _, c := range cases {
		got, reason := ShouldFilter(f, c.content)
		assert.Equal(t, c.want, got, "%s: %s", c.content, reason)
	}

	f.Keywords = []string{"尺码", "Price"}
	f.RequireKeywords = true
	filtered, reason := ShouldFilter(f, "今天天气不错")
	assert.True(t, filtered)
	assert.Equal(t, "不包含关键词", reason)
	filtered, _ = ShouldFilter(f, "what's the price")
	assert.False(t, filtered)
}

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t, "自定义", SystemPrompt(configs.AI{SystemPrompt: "自定义", Role: configs.AIRoleClothing}))
	p := SystemPrompt(configs.AI{Role: configs.AIRoleClothing, Clothing: configs.Clothing{Category: "女装", Height: 160, Weight: 50}})
	assert.Contains(t, p, "女装直播间")
	assert.Contains(t, p, "主播身高160cm，体重50kg")
	assert.Equal(t, defaultSystemPrompt, SystemPrompt(configs.AI{}))
}

func newTestServer(t *testing.T, status int, reply string, bodies *[]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		b, _ := io.ReadAll(r.Body)
		*bodies = append(*bodies, string(b))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + reply + `"}}]}`))
	}))
}

func TestClient_Reply(t *testing.T) {
	var bodies []string
	srv := newTestServer(t, http.StatusOK, " 有的亲 ", &bodies)
	defer srv.Close()

	var (
		wg    sync.WaitGroup
		usage Usage
	)
	wg.Add(1)
	reporter := func(_ context.Context, u Usage) error {
		defer wg.Done()
		usage = u
		return nil
	}
	c := NewClient(configs.AI{APIKey: "key", APIUrl: srv.URL, MaxHistory: 1, Timeout: time.Second, Filter: defaultFilter(), CDK: "cdk"}, reporter, nil)

	reply, err := c.Reply(context.Background(), "u", "有S码吗")
	require.NoError(t, err)
	assert.Equal(t, "有的亲", reply)
	assert.Equal(t, 2, c.HistoryCount("u"))
	wg.Wait()
	assert.Equal(t, 3, usage.ResponseLength)
	assert.Equal(t, "cdk", usage.CDK)

	body := gjson.Parse(bodies[0])
	assert.Equal(t, DefaultModel, body.Get("model").String())
	assert.Equal(t, int64(100), body.Get("max_tokens").Int())
	assert.Equal(t, "system", body.Get("messages.0.role").String())
	assert.Equal(t, "有S码吗", body.Get("messages.1.content").String())

	wg.Add(1)
	_, err = c.Reply(context.Background(), "u", "有M码吗")
	require.NoError(t, err)
	wg.Wait()
	// 历史保留在 max_history 轮之内
	assert.Equal(t, 2, c.HistoryCount("u"))
	assert.Equal(t, "有S码吗", gjson.Get(bodies[1], "messages.1.content").String())

	c.ClearHistory("")
	assert.Equal(t, 0, c.HistoryCount("u"))
}

func TestClient_ReplyErrors(t *testing.T) {
	var bodies []string
	srv := newTestServer(t, http.StatusUnauthorized, "x", &bodies)
	defer srv.Close()

	c := NewClient(configs.AI{APIKey: "key", APIUrl: srv.URL, Timeout: time.Second, Filter: defaultFilter()}, nil, nil)
	_, err := c.Reply(context.Background(), "u", "有S码吗")
	assert.ErrorIs(t, err, ErrAPIStatus)

	_, err = c.Reply(context.Background(), "u", "666")
	assert.ErrorIs(t, err, ErrFiltered)
	assert.Len(t, bodies, 1)

	empty := NewClient(configs.AI{}, nil, nil)
	assert.False(t, empty.Configured())
	_, err = empty.Reply(context.Background(), "u", "有S码吗")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_ReplyTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(configs.AI{APIKey: "key", APIUrl: srv.URL, Timeout: 200 * time.Millisecond}, nil, nil)
	start := time.Now()
	_, err := c.Reply(context.Background(), "u", "有S码吗")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	assert.Equal(t, 0, c.HistoryCount("u"))
}

func TestClient_EmptyReply(t *testing.T) {
	var bodies []string
	srv := newTestServer(t, http.StatusOK, "  ", &bodies)
	defer srv.Close()

	c := NewClient(configs.AI{APIKey: "key", APIUrl: srv.URL, Timeout: time.Second}, nil, nil)
	_, err := c.Reply(context.Background(), "u", "你好呀")
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Equal(t, 0, c.HistoryCount("u"))
}
