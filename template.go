package fxchat

import (
	"fmt"
	"maps"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/Songmu/flextime"
)

var builtinTemplateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"utcNow": func() time.Time {
		return flextime.Now().UTC()
	},
}

func SystemPromptTemplateFuncs() template.FuncMap {
	ret := sprig.TxtFuncMap()
	maps.Copy(ret, builtinTemplateFuncs)
	return ret
}

type SystemPromptData struct {
	Prompt string
	Now    time.Time
}

// SystemPrompt is a text/template rendered once per request. The zero value renders nothing.
type SystemPrompt struct {
	tmpl *template.Template
}

func ParseSystemPrompt(text string) (*SystemPrompt, error) {
	if strings.TrimSpace(text) == "" {
		return &SystemPrompt{}, nil
	}
	tmpl, err := template.New("system").Funcs(SystemPromptTemplateFuncs()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}
	return &SystemPrompt{tmpl: tmpl}, nil
}

func (sp *SystemPrompt) Render(prompt string) (string, error) {
	if sp == nil || sp.tmpl == nil {
		return "", nil
	}
	var sb strings.Builder
	data := SystemPromptData{
		Prompt: prompt,
		Now:    flextime.Now(),
	}
	if err := sp.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
