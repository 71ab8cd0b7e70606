package action

import (
	"fmt"

	"github.com/flosch/pongo2/v6"
)

// Render expands a pongo2 template string against the descriptor's data,
// used by every handler to build the message/subject/body it sends.
func Render(template string, data map[string]any) (string, error) {
	tpl, err := pongo2.FromString(template)
	if err != nil {
		return "", fmt.Errorf("action: parsing template: %w", err)
	}
	out, err := tpl.Execute(pongo2.Context(data))
	if err != nil {
		return "", fmt.Errorf("action: rendering template: %w", err)
	}
	return out, nil
}
