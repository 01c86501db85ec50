package templates

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/clinichq/arrivals/internal/pms"
)

// Source supplies the active template body for a kind. The Postgres store
// implements this; tests use a map.
type Source interface {
	Template(ctx context.Context, kind Kind) (string, error)
}

// MapSource serves templates from memory, falling back to Defaults.
type MapSource map[Kind]string

func (m MapSource) Template(_ context.Context, kind Kind) (string, error) {
	if body, ok := m[kind]; ok {
		return body, nil
	}
	if body, ok := Defaults[kind]; ok {
		return body, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

// Resolver turns a notification kind plus appointment fields into final
// message text.
type Resolver struct {
	source Source
}

func NewResolver(source Source) *Resolver {
	if source == nil {
		source = MapSource(nil)
	}
	return &Resolver{source: source}
}

// Resolve renders the active template for kind. Extra variables are merged
// over the appointment's standard set, extras winning on collision. An
// unresolved placeholder is an error, never silent pass-through.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, appt pms.Appointment, extras map[string]string) (string, error) {
	body, err := r.source.Template(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("templates: load %s: %w", kind, err)
	}
	vars := map[string]string{
		"PatientName":      appt.PatientName,
		"PractitionerName": appt.PractitionerName,
		"StartTime":        appt.Start.Format("03:04 PM"),
		"StartDate":        appt.Start.Format("2-Jan"),
	}
	for k, v := range extras {
		vars[k] = v
	}
	return render(kind, body, vars)
}

// Validate rejects a template body whose placeholders do not all resolve
// against the kind's known variable set. Run at save time so bad templates
// never reach the rule engine; Resolve re-derives the same check.
func Validate(kind Kind, body string) error {
	if !known(kind) {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if body == "" {
		return fmt.Errorf("%w: %s: body required", ErrInvalidTemplate, kind)
	}
	_, err := render(kind, body, sampleVariables(kind))
	return err
}

func render(kind Kind, body string, vars map[string]string) (string, error) {
	t, err := template.New(string(kind)).Option("missingkey=error").Parse(body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: parse: %v", ErrInvalidTemplate, kind, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("%w: %s: execute: %v", ErrInvalidTemplate, kind, err)
	}
	return buf.String(), nil
}
