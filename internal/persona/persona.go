package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Guide 回答用的本地向导设定
type Guide struct {
	Role          string   `json:"role"`
	City          string   `json:"city"`
	Tone          string   `json:"tone"`
	Neighborhoods []string `json:"neighborhoods"`
	Guidelines    []string `json:"guidelines"`
	Avoid         []string `json:"avoid"`
}

// Default 未提供设定文件时使用
func Default(city string) *Guide {
	return &Guide{
		Role: "helpful local guide",
		City: city,
	}
}

func LoadFromFile(path string) (*Guide, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guide profile: %w", err)
	}
	var g Guide
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal guide profile: %w", err)
	}
	if g.Role == "" {
		g.Role = "helpful local guide"
	}
	return &g, nil
}

// Intro 提示词开头的身份句
func (g *Guide) Intro() string {
	role := g.Role
	if role == "" {
		role = "helpful local guide"
	}
	if g.City != "" {
		return fmt.Sprintf("You are a %s for %s. You are having a conversation with a user.", role, g.City)
	}
	return fmt.Sprintf("You are a %s. You are having a conversation with a user.", role)
}

// FormatForPrompt 将设定格式化为 prompt 文本，没有额外设定时为空
func (g *Guide) FormatForPrompt() string {
	var b strings.Builder

	if g.Tone != "" {
		fmt.Fprintf(&b, "- Tone: %s\n", g.Tone)
	}
	if len(g.Neighborhoods) > 0 {
		fmt.Fprintf(&b, "- Neighborhoods you know well: %s\n", strings.Join(g.Neighborhoods, ", "))
	}
	for _, line := range g.Guidelines {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	if len(g.Avoid) > 0 {
		b.WriteString("\nYou never:\n")
		for _, a := range g.Avoid {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	return b.String()
}
