package prompt

import (
	_ "embed"
	"strings"
	"text/template"
)

//go:embed resource/system.md
var System string

//go:embed resource/user.md
var userTemplate string

var userTpl = template.Must(template.New("user").Parse(userTemplate))

// User renders the user template around question. The question is inserted
// verbatim.
func User(question string) (string, error) {
	var sb strings.Builder
	if err := userTpl.Execute(&sb, map[string]string{
		"Question": question,
	}); err != nil {
		return "", err
	}
	return sb.String(), nil
}
