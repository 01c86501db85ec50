package templates

import (
	"errors"
	"fmt"
	"sort"
)

// Kind identifies one of the outbound notification templates.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindScreening    Kind = "screening"
	KindVideoInvite  Kind = "video-invite"
)

// Kinds lists the template kinds an installation must provide.
func Kinds() []Kind {
	return []Kind{KindRegistration, KindScreening, KindVideoInvite}
}

// Template pairs a notification kind with its active message body.
type Template struct {
	Kind Kind
	Body string
}

// ErrInvalidTemplate marks template bodies rejected by validation: a parse
// failure or a placeholder outside the kind's variable set.
var ErrInvalidTemplate = errors.New("templates: invalid template")

// ErrUnknownKind marks kinds this installation does not define.
var ErrUnknownKind = errors.New("templates: unknown kind")

// variables available to every kind. Values here double as samples for
// save-time validation.
var baseVariables = map[string]string{
	"PatientName":      "Jane Citizen",
	"PractitionerName": "Dr Example",
	"StartTime":        "09:15 AM",
	"StartDate":        "2-Jan",
}

// kind-specific extras.
var extraVariables = map[Kind]map[string]string{
	KindVideoInvite: {"URL": "https://video.example.com/room"},
}

// VariableNames returns the placeholder names recognized for a kind, sorted.
func VariableNames(kind Kind) ([]string, error) {
	if !known(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	names := make([]string, 0, len(baseVariables)+len(extraVariables[kind]))
	for name := range baseVariables {
		names = append(names, name)
	}
	for name := range extraVariables[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func known(kind Kind) bool {
	for _, k := range Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func sampleVariables(kind Kind) map[string]string {
	vars := make(map[string]string, len(baseVariables)+len(extraVariables[kind]))
	for k, v := range baseVariables {
		vars[k] = v
	}
	for k, v := range extraVariables[kind] {
		vars[k] = v
	}
	return vars
}

// Defaults are used until an installation saves its own templates.
var Defaults = map[Kind]string{
	KindRegistration: "Patient {{.PatientName}} has an appointment with {{.PractitionerName}} at {{.StartTime}} on {{.StartDate}}. 3 hours prior to the appointment, you will be sent a COVID-19 screening check to decide whether you should do a video consultation rather than seeing the doctor in person",
	KindScreening:    "Please consult the clinic screening page to determine whether you are eligible to meet with the doctor by phone/video. If you are, respond to this message with YES otherwise respond with NO",
	KindVideoInvite:  "Please start your video call at {{.URL}}. When you have started it, reply to this message with the word \"joined\"",
}
