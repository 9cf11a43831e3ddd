package twilio

import (
	"fmt"
	"strings"

	"github.com/nightcall/nightcall/oncall"
)

// TwiML builders for the voice dialogue. Documents are built by hand since
// the grammar is five elements deep; every embedded value passes through
// escapeXML first.

const twimlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

var xmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// escapeXML escapes the five XML significant characters.
func escapeXML(s string) string {
	return xmlReplacer.Replace(s)
}

func say(b *strings.Builder, voice, text string) {
	fmt.Fprintf(b, `<Say voice="%s">%s</Say>`, escapeXML(voice), escapeXML(text))
}

func redirect(b *strings.Builder, u string) {
	fmt.Fprintf(b, `<Redirect method="POST">%s</Redirect>`, escapeXML(u))
}

// promptTwiML gathers a single keypad digit within ten seconds and posts it
// to the acknowledge endpoint. When no input arrives the call falls through
// to a short notice and redirects back to the prompt.
func promptTwiML(voice string, priority oncall.Priority, message, ackURL, promptURL string) string {
	var b strings.Builder
	b.WriteString(twimlHeader)
	b.WriteString("<Response>")
	fmt.Fprintf(&b, `<Gather numDigits="1" timeout="10" method="POST" action="%s">`, escapeXML(ackURL))
	say(&b, voice, fmt.Sprintf(
		"%s alert: %s. Press 1 to acknowledge. Press 2 to repeat this message.",
		strings.ToLower(priority.String()), message,
	))
	b.WriteString("</Gather>")
	say(&b, voice, "We did not receive any input.")
	redirect(&b, promptURL)
	b.WriteString("</Response>")
	return b.String()
}

// sayAndHangupTwiML speaks one sentence and ends the call.
func sayAndHangupTwiML(voice, text string) string {
	var b strings.Builder
	b.WriteString(twimlHeader)
	b.WriteString("<Response>")
	say(&b, voice, text)
	b.WriteString("<Hangup/>")
	b.WriteString("</Response>")
	return b.String()
}

func acceptedTwiML(voice, responder string) string {
	text := "Thank you. The alert is acknowledged. Goodbye."
	if responder != "" {
		text = fmt.Sprintf("Thank you %s. The alert is acknowledged. Goodbye.", responder)
	}
	return sayAndHangupTwiML(voice, text)
}

func alreadyHandledTwiML(voice, responder string) string {
	text := "This alert was already acknowledged."
	if responder != "" {
		text = fmt.Sprintf("This alert was already acknowledged by %s.", responder)
	}
	return sayAndHangupTwiML(voice, text)
}

func invalidInputTwiML(voice, promptURL string) string {
	var b strings.Builder
	b.WriteString(twimlHeader)
	b.WriteString("<Response>")
	say(&b, voice, "Sorry, I did not understand.")
	redirect(&b, promptURL)
	b.WriteString("</Response>")
	return b.String()
}

func assignmentMissingTwiML(voice string) string {
	return sayAndHangupTwiML(voice, "This page is no longer active. Please contact the operations team.")
}

func alertMissingTwiML(voice string) string {
	return sayAndHangupTwiML(voice, "This alert is no longer available. Please contact the operations team.")
}
