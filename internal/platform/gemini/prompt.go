package gemini

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"
)

//go:embed prompts/synopsis.tmpl
var defaultPrompt string

type promptData struct {
	Text     string
	MaxWords int
}

// loadPromptTemplate parses the template at path, or the built-in prompt when
// path is empty.
func loadPromptTemplate(path string) (*template.Template, error) {
	content := defaultPrompt
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read prompt template from %s: %v", ErrInvalidConfig, path, err)
		}
		content = string(raw)
	}
	tmpl, err := template.New("synopsis").Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrInvalidConfig, err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, text string, maxWords int) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, promptData{Text: text, MaxWords: maxWords}); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
