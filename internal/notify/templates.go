package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/supportly/backend/internal/domain"
)

// RenderError is returned for an unknown kind or a template failure.
type RenderError struct {
	Kind domain.NotificationKind
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(kind domain.NotificationKind, subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New(string(kind) + ".subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New(string(kind) + ".body").Option("missingkey=zero").Parse(body)),
	}
}

var templates = map[domain.NotificationKind]emailTemplate{
	domain.NotifyWelcome: mustTemplate(domain.NotifyWelcome,
		`Welcome to {{.creatorName}}'s community`,
		`Hi {{.supporterName}},

Thanks for supporting {{.creatorName}} at tier {{.tierLevel}}.
Your membership is active until {{.periodEnd}}.
{{if .channels}}
You now have access to: {{range $i, $c := .channels}}{{if $i}}, {{end}}{{$c}}{{end}}.
{{end}}
Manage your subscription: {{.manageURL}}
`),
	domain.NotifyRenewal: mustTemplate(domain.NotifyRenewal,
		`Your support for {{.creatorName}} was renewed`,
		`Hi {{.supporterName}},

Your tier {{.tierLevel}} membership for {{.creatorName}} has been renewed.
It now runs until {{.periodEnd}}.

Manage your subscription: {{.manageURL}}
`),
	domain.NotifyRenewalReminder: mustTemplate(domain.NotifyRenewalReminder,
		`Your membership for {{.creatorName}} ends in {{.daysRemaining}} day(s)`,
		`Hi {{.supporterName}},

Your tier {{.tierLevel}} membership for {{.creatorName}} ends on {{.periodEnd}}.
Renew before then to keep your access to the community.

Renew now: {{.manageURL}}
`),
	domain.NotifyExpired: mustTemplate(domain.NotifyExpired,
		`Your membership for {{.creatorName}} has ended`,
		`Hi {{.supporterName}},

Your tier {{.tierLevel}} membership for {{.creatorName}} ended on {{.periodEnd}}.
You can come back any time: {{.manageURL}}
`),
	domain.NotifyCancellation: mustTemplate(domain.NotifyCancellation,
		`Your membership for {{.creatorName}} was cancelled`,
		`Hi {{.supporterName}},

Your tier {{.tierLevel}} membership for {{.creatorName}} has been cancelled.
{{if .reason}}Reason: {{.reason}}
{{end}}
You can resubscribe any time: {{.manageURL}}
`),
}

// Render produces the subject and plain-text body for a lifecycle email.
func Render(kind domain.NotificationKind, data map[string]interface{}) (subject, body string, err error) {
	t, ok := templates[kind]
	if !ok {
		return "", "", &RenderError{Kind: kind, Err: fmt.Errorf("unknown notification kind")}
	}
	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, data); err != nil {
		return "", "", &RenderError{Kind: kind, Err: err}
	}
	if err := t.body.Execute(&bb, data); err != nil {
		return "", "", &RenderError{Kind: kind, Err: err}
	}
	return sb.String(), bb.String(), nil
}
