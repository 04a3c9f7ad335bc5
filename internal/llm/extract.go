package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// ExtractJSON pulls a JSON document out of a model reply. It tries, in
// order: the whole reply, the first fenced code block tagged json (or
// untagged) that looks like JSON, and the span from the first '{' to the
// last '}'. Returns "" when nothing plausible is found.
func ExtractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	if json.Valid([]byte(trimmed)) && (trimmed[0] == '{' || trimmed[0] == '[') {
		return trimmed
	}

	if block := fencedJSON(trimmed); block != "" {
		return block
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return ""
}

func fencedJSON(content string) string {
	src := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var found string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lang := strings.ToLower(string(block.Language(src)))
		if lang != "" && lang != "json" && lang != "jsonc" {
			return ast.WalkSkipChildren, nil
		}

		var buf bytes.Buffer
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		body := strings.TrimSpace(buf.String())
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			found = body
			return ast.WalkStop, nil
		}
		return ast.WalkSkipChildren, nil
	})
	return found
}

// DecodeJSON extracts JSON from content and unmarshals it into v. Malformed
// JSON (trailing commas, single quotes, truncation) is repaired once before
// giving up.
func DecodeJSON(content string, v interface{}) error {
	extracted := ExtractJSON(content)
	if extracted == "" {
		return fmt.Errorf("no JSON found in response (content: %s)", truncate(content, 200))
	}

	err := json.Unmarshal([]byte(extracted), v)
	if err == nil {
		return nil
	}

	repaired, rerr := jsonrepair.JSONRepair(extracted)
	if rerr != nil {
		return fmt.Errorf("failed to unmarshal response: %w (content: %s)", err, truncate(extracted, 200))
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("failed to unmarshal repaired response: %w (content: %s)", err, truncate(extracted, 200))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
