package sessionregistry

import "testing"

func TestFingerprintStableForSameInput(t *testing.T) {
	in := FingerprintInputs{
		SystemPrompt:    "be helpful",
		Env:             map[string]string{"FOO": "bar"},
		DisallowedTools: []string{"Bash", "WebFetch"},
	}
	a := Fingerprint(in)
	b := Fingerprint(in)
	if a != b {
		t.Errorf("Fingerprint not stable: %s != %s", a, b)
	}
}

func TestFingerprintOrderIndependentToolList(t *testing.T) {
	a := Fingerprint(FingerprintInputs{DisallowedTools: []string{"Bash", "WebFetch"}})
	b := Fingerprint(FingerprintInputs{DisallowedTools: []string{"WebFetch", "Bash"}})
	if a != b {
		t.Errorf("Fingerprint should be order-independent for tool list: %s != %s", a, b)
	}
}

func TestFingerprintChangesWithSystemPrompt(t *testing.T) {
	a := Fingerprint(FingerprintInputs{SystemPrompt: "be helpful"})
	b := Fingerprint(FingerprintInputs{SystemPrompt: "be terse"})
	if a == b {
		t.Error("Fingerprint should differ when system prompt differs")
	}
}
