package pagerduty

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// EventIncidentTriggered is the only webhook event type that is enriched.
const EventIncidentTriggered = "incident.triggered"

// SignatureHeader carries the HMAC signatures of a V3 webhook body.
const SignatureHeader = "X-PagerDuty-Signature"

// WebhookPayload is the body of a V3 webhook delivery.
type WebhookPayload struct {
	Event Event `json:"event"`
}

// Event is a single webhook event.
type Event struct {
	ID           string       `json:"id"`
	EventType    string       `json:"event_type"`
	ResourceType string       `json:"resource_type"`
	OccurredAt   string       `json:"occurred_at"`
	Data         IncidentData `json:"data"`
}

// IncidentData is the incident an event refers to.
type IncidentData struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Service     Service `json:"service"`
	Urgency     string  `json:"urgency"`
	Status      string  `json:"status"`
}

// Service is the PagerDuty service reference on an incident.
type Service struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

// VerifySignature reports whether header holds a v1 signature of body under
// secret. PagerDuty sends a comma-separated list during secret rotation;
// any match is accepted.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)

	for _, sig := range strings.Split(header, ",") {
		hexSig, ok := strings.CutPrefix(strings.TrimSpace(sig), "v1=")
		if !ok {
			continue
		}
		got, err := hex.DecodeString(hexSig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, want) {
			return true
		}
	}
	return false
}

// Sign returns the v1 signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}
