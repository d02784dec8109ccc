// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"fmt"
	"html/template"
	"strings"
)

// Renderer produces the HTML views of the flow. The default implementation
// renders minimal self-contained forms; deployments with their own front end
// can substitute their templating behind this interface.
type Renderer interface {
	// EmailPage renders the email-collection view.
	EmailPage(data EmailPageData) (string, error)
	// CodePage renders the code-entry view.
	CodePage(data CodePageData) (string, error)
}

// EmailPageData is the model for the email-collection view.
type EmailPageData struct {
	CSRFToken string
}

// CodePageData is the model for the code-entry view.
type CodePageData struct {
	Email     string
	CSRFToken string
	Error     string
}

const emailPageTmpl = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Sign in</title></head>
<body data-csrf-token="{{.CSRFToken}}">
<h1>Sign in</h1>
<form id="email-form" method="post" action="/send-code">
  <label for="email">Email address</label>
  <input id="email" name="email" type="email" autocomplete="email" required>
  <button type="submit">Send code</button>
</form>
</body>
</html>
`

const codePageTmpl = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Enter code</title></head>
<body data-csrf-token="{{.CSRFToken}}">
<h1>Check your email</h1>
<p>We sent a code to <strong>{{.Email}}</strong>.</p>
{{if .Error}}<p class="error" role="alert">{{.Error}}</p>{{end}}
<form id="code-form" method="post" action="/verify-code">
  <label for="code">8-digit code</label>
  <input id="code" name="code" inputmode="numeric" pattern="[0-9]{8}" autocomplete="one-time-code" required>
  <button type="submit">Verify</button>
</form>
<form id="resend-form" method="post" action="/resend-code">
  <button type="submit">Resend code</button>
</form>
</body>
</html>
`

// defaultRenderer renders the built-in minimal views.
type defaultRenderer struct {
	email *template.Template
	code  *template.Template
}

// NewRenderer creates the default Renderer.
func NewRenderer() Renderer {
	return &defaultRenderer{
		email: template.Must(template.New("email").Parse(emailPageTmpl)),
		code:  template.Must(template.New("code").Parse(codePageTmpl)),
	}
}

func (d *defaultRenderer) EmailPage(data EmailPageData) (string, error) {
	var sb strings.Builder
	if err := d.email.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering email page: %w", err)
	}
	return sb.String(), nil
}

func (d *defaultRenderer) CodePage(data CodePageData) (string, error) {
	var sb strings.Builder
	if err := d.code.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering code page: %w", err)
	}
	return sb.String(), nil
}
