// Package proxy implements the HTTP proxy server for ccr-gateway.
package proxy

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ccrouter/gateway/internal/routing"
)

// webSearchTypePrefix matches Anthropic's web-search server tool type names
// (e.g. "web_search_20250305"); any tool whose type starts with this prefix
// counts as the request advertising web-search tool use.
const webSearchTypePrefix = "web_search"

// ExtractRoutingRequest reads the request body and builds the routing.Request
// the Routing Decision Engine needs: declared model, message text, tool
// schema text, and the web-search/thinking signals (routing-substrate spec
// §4.7). The body is restored for downstream reads (model extraction,
// signature processing, proxying).
func ExtractRoutingRequest(r *http.Request) (routing.Request, bool) {
	if r.Body == nil {
		return routing.Request{}, false
	}

	body, err := io.ReadAll(r.Body)
	//nolint:errcheck // Best effort close
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	if err != nil || len(body) == 0 {
		return routing.Request{}, false
	}

	parsed := gjson.ParseBytes(body)

	req := routing.Request{
		DeclaredModel:  parsed.Get("model").String(),
		Messages:       extractRoutingMessages(parsed),
		ToolSchemaText: parsed.Get("tools").Raw,
		HasWebSearch:   requestHasWebSearch(parsed),
		HasThinking:    parsed.Get("thinking.type").String() == "enabled",
	}
	return req, true
}

func extractRoutingMessages(parsed gjson.Result) []routing.Message {
	messagesResult := parsed.Get("messages")
	if !messagesResult.IsArray() {
		return nil
	}

	messages := make([]routing.Message, 0, len(messagesResult.Array()))
	for _, m := range messagesResult.Array() {
		messages = append(messages, routing.Message{
			Role: m.Get("role").String(),
			Text: messageText(m),
		})
	}
	return messages
}

// messageText concatenates a message's textual content. Content is either a
// plain string or an array of content blocks, each optionally carrying a
// "text" field (e.g. {"type":"text","text":"..."}); non-text blocks
// contribute nothing.
func messageText(message gjson.Result) string {
	content := message.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}

	var buf bytes.Buffer
	for _, block := range content.Array() {
		if text := block.Get("text"); text.Exists() {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(text.String())
		}
	}
	return buf.String()
}

// requestHasWebSearch reports whether the request's tools array includes a
// web-search server tool.
func requestHasWebSearch(parsed gjson.Result) bool {
	tools := parsed.Get("tools")
	if !tools.IsArray() {
		return false
	}
	for _, tool := range tools.Array() {
		if strings.HasPrefix(tool.Get("type").String(), webSearchTypePrefix) {
			return true
		}
	}
	return false
}
