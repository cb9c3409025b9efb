package render

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is a button or link extracted from an Adaptive Card.
type Action struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Card is the normalized projection of an Adaptive Card used by the planner.
// Empty text fields are absent, not empty strings.
type Card struct {
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text,omitempty"`
	Actions []Action `json:"actions"`
	Images  []string `json:"images"`
}

// ParseAdaptiveCard decodes a serialized Adaptive Card into the dynamic tree
// the extractor walks.
func ParseAdaptiveCard(raw string) (map[string]any, error) {
	var ac map[string]any
	if err := json.Unmarshal([]byte(raw), &ac); err != nil {
		return nil, fmt.Errorf("parse adaptive card: %w", err)
	}
	return ac, nil
}

// ExtractCard walks an Adaptive Card JSON tree and projects it to a Card.
// Unknown element kinds are silently skipped so forward-compatible AC
// extensions do not fail extraction.
func ExtractCard(ac map[string]any) Card {
	var st extractState
	if body, ok := ac["body"].([]any); ok {
		st.walkBody(body)
	}
	if actions, ok := ac["actions"].([]any); ok {
		st.walkActions(actions)
	}

	card := Card{
		Title:   st.title,
		Actions: st.actions,
		Images:  st.images,
	}
	if len(st.textParts) > 0 {
		card.Text = strings.Join(st.textParts, "\n")
	}
	return card
}

type extractState struct {
	title     string
	textParts []string
	actions   []Action
	images    []string
}

func (st *extractState) walkBody(elements []any) {
	for _, raw := range elements {
		element, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch str(element["type"]) {
		case "TextBlock":
			text := strings.TrimSpace(str(element["text"]))
			if text == "" {
				continue
			}
			// First bold/large TextBlock becomes the title.
			if st.title == "" && isTitleBlock(element) {
				st.title = text
			} else {
				st.textParts = append(st.textParts, text)
			}
		case "RichTextBlock":
			var parts []string
			if inlines, ok := element["inlines"].([]any); ok {
				for _, inline := range inlines {
					switch v := inline.(type) {
					case map[string]any:
						if t := str(v["text"]); t != "" {
							parts = append(parts, t)
						}
					case string:
						if v != "" {
							parts = append(parts, v)
						}
					}
				}
			}
			if joined := strings.TrimSpace(strings.Join(parts, "")); joined != "" {
				st.textParts = append(st.textParts, joined)
			}
		case "Image":
			if url := str(element["url"]); url != "" {
				st.images = append(st.images, url)
			}
		case "ImageSet":
			if images, ok := element["images"].([]any); ok {
				for _, img := range images {
					if m, ok := img.(map[string]any); ok {
						if url := str(m["url"]); url != "" {
							st.images = append(st.images, url)
						}
					}
				}
			}
		case "ActionSet":
			if actions, ok := element["actions"].([]any); ok {
				st.walkActions(actions)
			}
		case "Container":
			if items, ok := element["items"].([]any); ok {
				st.walkBody(items)
			}
		case "ColumnSet":
			if columns, ok := element["columns"].([]any); ok {
				for _, col := range columns {
					if m, ok := col.(map[string]any); ok {
						if items, ok := m["items"].([]any); ok {
							st.walkBody(items)
						}
					}
				}
			}
		case "FactSet":
			if facts, ok := element["facts"].([]any); ok {
				for _, fact := range facts {
					m, ok := fact.(map[string]any)
					if !ok {
						continue
					}
					title, value := str(m["title"]), str(m["value"])
					if title != "" || value != "" {
						st.textParts = append(st.textParts, title+": "+value)
					}
				}
			}
		}
	}
}

func (st *extractState) walkActions(actions []any) {
	for _, raw := range actions {
		action, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		title := str(action["title"])
		if title == "" {
			continue
		}
		var url string
		if str(action["type"]) == "Action.OpenUrl" {
			url = str(action["url"])
		}
		st.actions = append(st.actions, Action{Title: title, URL: url})
	}
}

func isTitleBlock(element map[string]any) bool {
	if strings.EqualFold(str(element["weight"]), "bolder") {
		return true
	}
	switch strings.ToLower(str(element["size"])) {
	case "large", "extralarge", "medium":
		return true
	}
	return strings.EqualFold(str(element["style"]), "heading")
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
