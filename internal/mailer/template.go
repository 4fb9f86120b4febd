// Package mailer builds MIME messages and dispatches them through the
// provider send endpoint, recording every outcome.
package mailer

import (
	"regexp"
	"strings"

	"crm-mailer/internal/storage"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// RenderTemplate substitutes {{placeholder}} tokens in the template's
// subject and bodies with values from data. Unresolvable placeholders
// collapse to an empty string so a sparse CRM record never blocks a send.
// The template itself is not mutated.
func RenderTemplate(tmpl *storage.MessageTemplate, data map[string]string) (subject, bodyHTML, bodyText string) {
	resolved := expandDerivedFields(data)

	subject = substitute(tmpl.Subject, resolved)
	bodyHTML = substitute(tmpl.BodyHTML, resolved)
	bodyText = substitute(tmpl.BodyText, resolved)
	return subject, bodyHTML, bodyText
}

func substitute(pattern string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(pattern, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		return data[key]
	})
}

// expandDerivedFields adds first_name and last_name when only a full name
// is supplied. Explicit values always win over derived ones.
func expandDerivedFields(data map[string]string) map[string]string {
	name, ok := data["name"]
	if !ok || name == "" {
		return data
	}

	resolved := make(map[string]string, len(data)+2)
	for k, v := range data {
		resolved[k] = v
	}

	parts := strings.Fields(name)
	if _, ok := resolved["first_name"]; !ok && len(parts) > 0 {
		resolved["first_name"] = parts[0]
	}
	if _, ok := resolved["last_name"]; !ok && len(parts) > 1 {
		resolved["last_name"] = strings.Join(parts[1:], " ")
	}

	return resolved
}
