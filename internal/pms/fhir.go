package pms

import (
	"encoding/json"
	"strings"
	"time"
)

// FHIR resource models for the PMS endpoint (FHIR R4, Appointment search with
// included Patient and Practitioner resources).

// FHIRBundle represents a FHIR Bundle resource (search results container)
type FHIRBundle struct {
	ResourceType string `json:"resourceType"`
	Type         string `json:"type"`
	Total        int    `json:"total"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// FHIRAppointment represents a FHIR Appointment resource
type FHIRAppointment struct {
	ResourceType string                `json:"resourceType"`
	ID           string                `json:"id,omitempty"`
	Status       string                `json:"status"` // proposed, pending, booked, arrived, fulfilled, cancelled, noshow
	ServiceType  []FHIRCodeableConcept `json:"serviceType,omitempty"`
	Description  string                `json:"description,omitempty"`
	Start        string                `json:"start"` // RFC3339 datetime
	End          string                `json:"end,omitempty"`
	Participant  []FHIRParticipant     `json:"participant"`
}

// FHIRPatient represents a FHIR Patient resource
type FHIRPatient struct {
	ResourceType string             `json:"resourceType"`
	ID           string             `json:"id,omitempty"`
	Name         []FHIRHumanName    `json:"name"`
	Telecom      []FHIRContactPoint `json:"telecom,omitempty"`
}

// FHIRPractitioner represents a FHIR Practitioner resource
type FHIRPractitioner struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Name         []FHIRHumanName `json:"name"`
}

// FHIRParticipant represents a participant in an appointment
type FHIRParticipant struct {
	Actor  FHIRReference `json:"actor"`
	Status string        `json:"status"`
}

// FHIRReference represents a reference to another FHIR resource
type FHIRReference struct {
	Reference string `json:"reference"` // e.g., "Patient/123"
	Display   string `json:"display,omitempty"`
}

// FHIRCodeableConcept represents a coded value with optional text
type FHIRCodeableConcept struct {
	Coding []FHIRCoding `json:"coding,omitempty"`
	Text   string       `json:"text,omitempty"`
}

// FHIRCoding represents a specific code from a code system
type FHIRCoding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// FHIRHumanName represents a person's name
type FHIRHumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// FHIRContactPoint represents a contact method (phone, email)
type FHIRContactPoint struct {
	System string `json:"system,omitempty"` // phone, email
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"` // home, work, mobile
}

func (n FHIRHumanName) display() string {
	if n.Text != "" {
		return n.Text
	}
	parts := append([]string{}, n.Given...)
	if n.Family != "" {
		parts = append(parts, n.Family)
	}
	return strings.Join(parts, " ")
}

func mobilePhone(telecom []FHIRContactPoint) string {
	var fallback string
	for _, t := range telecom {
		if t.System != "phone" || t.Value == "" {
			continue
		}
		if t.Use == "mobile" {
			return t.Value
		}
		if fallback == "" {
			fallback = t.Value
		}
	}
	return fallback
}

func parseStatus(s string) Status {
	switch strings.ToLower(s) {
	case "booked", "pending", "proposed":
		return StatusBooked
	case "arrived", "checked-in":
		return StatusArrived
	case "fulfilled":
		return StatusFulfilled
	case "cancelled":
		return StatusCancelled
	case "noshow":
		return StatusNoShow
	default:
		return Status(strings.ToLower(s))
	}
}

func isTelehealth(serviceType []FHIRCodeableConcept) bool {
	for _, st := range serviceType {
		if strings.EqualFold(st.Text, "telehealth") {
			return true
		}
		for _, c := range st.Coding {
			if strings.EqualFold(c.Code, "telehealth") || strings.EqualFold(c.Display, "telehealth") {
				return true
			}
		}
	}
	return false
}

func parseFHIRTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	// Calendar-date rules run against the clinic's local clock.
	return t.In(time.Local), nil
}
