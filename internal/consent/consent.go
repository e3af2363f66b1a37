// Package consent classifies inbound message bodies into consent actions.
//
// It is the single source of truth for opt-in/opt-out semantics: the inbound
// webhook handler reuses it verbatim, and confirmation copy lives next to the
// classifier so the two can never drift apart.
package consent

import (
	"regexp"
	"strings"
)

// Action is the classified intent of an inbound reply.
type Action string

const (
	// ActionNone means the body carried no consent keyword.
	ActionNone Action = ""
	// ActionStop opts the sender out of future messages.
	ActionStop Action = "stop"
	// ActionStart opts the sender back in.
	ActionStart Action = "start"
	// ActionHelp requests usage information; treated as an opt-in signal.
	ActionHelp Action = "help"
)

// Whole-word keyword sets, checked in priority order. Stop always wins:
// a body containing both STOP and START classifies as stop.
var (
	stopRe  = regexp.MustCompile(`\b(STOP|STOPALL|UNSUBSCRIBE|CANCEL|END|QUIT)\b`)
	startRe = regexp.MustCompile(`\b(START|YES|UNSTOP)\b`)
	helpRe  = regexp.MustCompile(`\b(HELP|INFO)\b`)
)

// Classify maps a message body to a consent action. It is pure and
// side-effect-free.
func Classify(body string) Action {
	upper := strings.ToUpper(body)
	switch {
	case stopRe.MatchString(upper):
		return ActionStop
	case startRe.MatchString(upper):
		return ActionStart
	case helpRe.MatchString(upper):
		return ActionHelp
	default:
		return ActionNone
	}
}

// OptedIn reports whether the action flips consent_sms on (start/help) or
// off (stop). Only meaningful for actions other than ActionNone.
func (a Action) OptedIn() bool {
	return a != ActionStop
}

// ConfirmationText returns the fixed confirmation reply queued after a consent
// transition.
func ConfirmationText(a Action) string {
	switch a {
	case ActionStop:
		return "You have been opted out and will no longer receive messages. Reply START to opt back in."
	case ActionStart:
		return "You have been opted in. Reply STOP to opt out."
	default:
		return "Reply STOP to opt out. Msg&data rates may apply."
	}
}
