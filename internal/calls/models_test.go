package calls

import "testing"

func TestVoiceCall_Open(t *testing.T) {
	c := VoiceCall{Status: CallStatusQueued}
	if !c.Open() {
		t.Fatalf("expected fresh call to be open")
	}
	c.CallbackCallID = "CA1"
	if c.Open() {
		t.Fatalf("stamped callback slot closes the call")
	}
	c = VoiceCall{RecordingCallID: "CA1"}
	if c.Open() {
		t.Fatalf("stamped recording slot closes the call")
	}
	c = VoiceCall{Status: CallStatusFailed}
	if c.Open() {
		t.Fatalf("failed calls are never open")
	}
}
