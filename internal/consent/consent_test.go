package consent

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		body string
		want Action
	}{
		{"STOP", ActionStop},
		{"stop", ActionStop},
		{"please UNSUBSCRIBE me", ActionStop},
		{"stopall", ActionStop},
		{"cancel", ActionStop},
		{"END", ActionStop},
		{"quit", ActionStop},
		{"START", ActionStart},
		{"yes", ActionStart},
		{"UNSTOP", ActionStart},
		{"HELP", ActionHelp},
		{"please HELP", ActionHelp},
		{"info", ActionHelp},
		{"order confirmed", ActionNone},
		{"", ActionNone},
		// Whole-word matching: keywords inside larger words do not count.
		{"unstoppable", ActionNone},
		{"pithelpless", ActionNone},
	}
	for _, c := range cases {
		if got := Classify(c.body); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.body, got, c.want)
		}
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// Stop patterns are checked first, so stop wins over start and help.
	if got := Classify("STOP START"); got != ActionStop {
		t.Errorf("Classify(STOP START) = %q, want stop", got)
	}
	if got := Classify("HELP me START"); got != ActionStart {
		t.Errorf("Classify(HELP me START) = %q, want start", got)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	body := "STOP start"
	first := Classify(body)
	for i := 0; i < 3; i++ {
		if got := Classify(body); got != first {
			t.Fatalf("classification changed between calls: %q vs %q", first, got)
		}
	}
}

func TestOptedIn(t *testing.T) {
	if ActionStop.OptedIn() {
		t.Error("stop should opt out")
	}
	if !ActionStart.OptedIn() || !ActionHelp.OptedIn() {
		t.Error("start and help should opt in")
	}
}

func TestConfirmationText(t *testing.T) {
	if ConfirmationText(ActionStop) == ConfirmationText(ActionStart) {
		t.Error("stop and start confirmations must differ")
	}
	if ConfirmationText(ActionHelp) == "" {
		t.Error("help confirmation must not be empty")
	}
}
