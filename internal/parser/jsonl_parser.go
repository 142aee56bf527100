package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/liao/guide-bot/internal/store"
)

// jsonlEntry 抽取脚本输出的一行
type jsonlEntry struct {
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	Neighborhood string    `json:"neighborhood"`
	Summary      string    `json:"summary"`
	Quote        string    `json:"quote"`
	SourceURL    string    `json:"source_url"`
	Tags         labelList `json:"tags"`
	Hashtags     labelList `json:"hashtags"`
	Hashtag      labelList `json:"hashtag"`
}

// labelList 兼容数组、逗号分隔字符串和 "N/A"
type labelList []string

func (l *labelList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		var items []any
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		for _, it := range items {
			if s, ok := it.(string); ok {
				*l = append(*l, s)
			}
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, part := range strings.Split(s, ",") {
		*l = append(*l, part)
	}
	return nil
}

// Result 解析结果；Skipped 为无法解析或缺少 source_url 的行数
type Result struct {
	Entries []Entry
	Skipped int
}

// ParseJSONLFile 读取并解析推荐 JSONL 文件
func ParseJSONLFile(path, defaultLocale string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseJSONLBytes(data, defaultLocale)
}

// ParseJSONLBytes 逐行解析并规范化记录
func ParseJSONLBytes(data []byte, defaultLocale string) (*Result, error) {
	// 旧的抽取脚本把换行写成了字面量 \n
	data = bytes.ReplaceAll(data, []byte(`}\n{`), []byte("}\n{"))

	res := &Result{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(scanner.Text()), `\n`))
		if line == "" {
			continue
		}

		var raw jsonlEntry
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			slog.Warn("skip malformed line", "line", lineNum, "error", err)
			res.Skipped++
			continue
		}

		rec := store.Record{
			Name:         raw.Name,
			Location:     raw.Location,
			Neighborhood: raw.Neighborhood,
			Summary:      raw.Summary,
			Quote:        raw.Quote,
			SourceURL:    raw.SourceURL,
			Tags:         raw.Tags,
			Hashtags:     append(raw.Hashtags, raw.Hashtag...),
		}
		rec.Normalize(defaultLocale)
		if rec.SourceURL == "" {
			slog.Warn("skip line without source_url", "line", lineNum)
			res.Skipped++
			continue
		}

		res.Entries = append(res.Entries, Entry{Line: lineNum, Record: rec})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan jsonl: %w", err)
	}

	return res, nil
}
