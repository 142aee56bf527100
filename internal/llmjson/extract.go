// Package llmjson 从模型输出的自由文本里尽力提取 JSON。
//
// 顺序：去掉代码块标记后严格解析 → 扫描第一个能解析的平衡括号片段 → 失败返回错误，
// 由调用方走各自的兜底。
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON 文本中找不到可解析的结构
var ErrNoJSON = errors.New("no parseable JSON in model output")

// StripFences 去掉 ```json / ``` 包裹
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	for _, marker := range []string{"```json", "```JSON", "```python", "```"} {
		text = strings.ReplaceAll(text, marker, "")
	}
	return strings.TrimSpace(text)
}

// Extract 把输出解析进 out；open 为 '[' 或 '{'，决定扫描哪种片段
func Extract(text string, open byte, out any) error {
	cleaned := StripFences(text)
	if cleaned == "" {
		return ErrNoJSON
	}
	if json.Unmarshal([]byte(cleaned), out) == nil {
		return nil
	}

	for start := strings.IndexByte(cleaned, open); start >= 0; {
		end := balancedEnd(cleaned, start)
		if end < 0 {
			break
		}
		if json.Unmarshal([]byte(cleaned[start:end+1]), out) == nil {
			return nil
		}
		next := strings.IndexByte(cleaned[start+1:], open)
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ErrNoJSON
}

// ExtractObject 提取第一个 JSON 对象
func ExtractObject(text string, out any) error {
	return Extract(text, '{', out)
}

// ExtractStringArray 提取第一个字符串数组
func ExtractStringArray(text string) ([]string, error) {
	var out []string
	if err := Extract(text, '[', &out); err != nil {
		// 兼容 Python 风格的单引号列表
		if err2 := Extract(singleToDoubleQuotes(text), '[', &out); err2 != nil {
			return nil, err
		}
	}
	if out == nil {
		return nil, fmt.Errorf("%w: null array", ErrNoJSON)
	}
	return out, nil
}

// balancedEnd 返回与 start 处括号配对的位置，跳过字符串内的括号
func balancedEnd(s string, start int) int {
	open := s[start]
	var closeCh byte = '}'
	if open == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// singleToDoubleQuotes 把 ['a', 'b'] 转成 ["a", "b"]，保留词内撇号
func singleToDoubleQuotes(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inDouble := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '"':
			inDouble = !inDouble
			b.WriteByte(c)
		case c == '\'' && !inDouble && isQuoteBoundary(text, i):
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isQuoteBoundary(s string, i int) bool {
	prev := prevNonSpace(s, i)
	next := nextNonSpace(s, i)
	return prev == '[' || prev == ',' || next == ']' || next == ','
}

func prevNonSpace(s string, i int) byte {
	for j := i - 1; j >= 0; j-- {
		if s[j] != ' ' && s[j] != '\n' && s[j] != '\t' {
			return s[j]
		}
	}
	return 0
}

func nextNonSpace(s string, i int) byte {
	for j := i + 1; j < len(s); j++ {
		if s[j] != ' ' && s[j] != '\n' && s[j] != '\t' {
			return s[j]
		}
	}
	return 0
}
