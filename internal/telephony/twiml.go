package telephony

import (
	"errors"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// Document is a provider-agnostic call-control document: an optional spoken
// message, an optional dial, and an optional hangup, rendered in that order.
type Document struct {
	Say    string
	Dial   *Dial
	Hangup bool
}

// Dial rings every target in parallel. The first leg to answer wins.
type Dial struct {
	CallerID       string
	TimeoutSeconds int
	// Clients are provider client identities; Numbers are PSTN numbers.
	Clients []string
	Numbers []string
	// StatusCallback receives leg status events. It must not carry a query string.
	StatusCallback string
	// RecordingCallback, when set, records the bridged call and reports the
	// recording there.
	RecordingCallback string
}

// Status events requested for every dialed leg.
const dialStatusEvents = "initiated ringing answered completed"

// RenderTwiML renders a Document as TwiML.
func RenderTwiML(doc Document) (string, error) {
	var verbs []twiml.Element

	if s := strings.TrimSpace(doc.Say); s != "" {
		verbs = append(verbs, &twiml.VoiceSay{Message: s})
	}
	if doc.Dial != nil {
		d, err := renderDial(*doc.Dial)
		if err != nil {
			return "", err
		}
		verbs = append(verbs, d)
	}
	if doc.Hangup {
		verbs = append(verbs, &twiml.VoiceHangup{})
	}
	if len(verbs) == 0 {
		return "", errors.New("telephony: empty call-control document")
	}
	return twiml.Voice(verbs)
}

func renderDial(d Dial) (*twiml.VoiceDial, error) {
	if strings.Contains(d.StatusCallback, "?") {
		return nil, errors.New("telephony: dial status callback must not carry a query string")
	}
	out := &twiml.VoiceDial{CallerId: d.CallerID}
	if d.RecordingCallback != "" {
		// Recording callbacks are POSTed by default.
		out.Record = "record-from-answer-dual"
		out.RecordingStatusCallback = d.RecordingCallback
	}
	if d.TimeoutSeconds > 0 {
		out.Timeout = strconv.Itoa(d.TimeoutSeconds)
	}

	method := ""
	events := ""
	if d.StatusCallback != "" {
		method = "POST"
		events = dialStatusEvents
	}
	for _, id := range d.Clients {
		if strings.TrimSpace(id) == "" {
			continue
		}
		out.InnerElements = append(out.InnerElements, &twiml.VoiceClient{
			Identity:             id,
			StatusCallback:       d.StatusCallback,
			StatusCallbackEvent:  events,
			StatusCallbackMethod: method,
		})
	}
	for _, n := range d.Numbers {
		if strings.TrimSpace(n) == "" {
			continue
		}
		out.InnerElements = append(out.InnerElements, &twiml.VoiceNumber{
			PhoneNumber:          n,
			StatusCallback:       d.StatusCallback,
			StatusCallbackEvent:  events,
			StatusCallbackMethod: method,
		})
	}
	if len(out.InnerElements) == 0 {
		return nil, errors.New("telephony: dial requires at least one target")
	}
	return out, nil
}
