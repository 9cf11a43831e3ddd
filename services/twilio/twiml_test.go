package twilio

import (
	"testing"

	"github.com/nightcall/nightcall/oncall"
	"github.com/stretchr/testify/require"
)

func TestEscapeXML(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{in: "db down", want: "db down"},
		{in: "a & b", want: "a &amp; b"},
		{in: "cpu > 90", want: "cpu &gt; 90"},
		{in: "x < y", want: "x &lt; y"},
		{in: `say "hi"`, want: "say &quot;hi&quot;"},
		{in: "it's", want: "it&apos;s"},
		{in: `<&>"'`, want: "&lt;&amp;&gt;&quot;&apos;"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, escapeXML(tc.in))
	}
}

func TestPromptTwiML(t *testing.T) {
	got := promptTwiML(
		"alice",
		oncall.High,
		`cpu > 90% & "hot"`,
		"https://example.com/oncall/twilio/acknowledge?alertId=a1&token=t1",
		"https://example.com/oncall/twilio/prompt?alertId=a1&token=t1",
	)
	want := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<Response>` +
		`<Gather numDigits="1" timeout="10" method="POST" action="https://example.com/oncall/twilio/acknowledge?alertId=a1&amp;token=t1">` +
		`<Say voice="alice">high alert: cpu &gt; 90% &amp; &quot;hot&quot;. Press 1 to acknowledge. Press 2 to repeat this message.</Say>` +
		`</Gather>` +
		`<Say voice="alice">We did not receive any input.</Say>` +
		`<Redirect method="POST">https://example.com/oncall/twilio/prompt?alertId=a1&amp;token=t1</Redirect>` +
		`</Response>`
	require.Equal(t, want, got)
}

func TestAcceptedTwiML(t *testing.T) {
	got := acceptedTwiML("alice", "primary")
	want := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<Response>` +
		`<Say voice="alice">Thank you primary. The alert is acknowledged. Goodbye.</Say>` +
		`<Hangup/>` +
		`</Response>`
	require.Equal(t, want, got)

	// Without a known responder the thanks stays generic.
	got = acceptedTwiML("alice", "")
	require.Contains(t, got, `<Say voice="alice">Thank you. The alert is acknowledged. Goodbye.</Say>`)
	require.Contains(t, got, "<Hangup/>")
}

func TestAlreadyHandledTwiML(t *testing.T) {
	got := alreadyHandledTwiML("alice", "secondary")
	require.Contains(t, got, `<Say voice="alice">This alert was already acknowledged by secondary.</Say>`)
	require.Contains(t, got, "<Hangup/>")

	got = alreadyHandledTwiML("alice", "")
	require.Contains(t, got, `<Say voice="alice">This alert was already acknowledged.</Say>`)
	require.Contains(t, got, "<Hangup/>")
}

func TestInvalidInputTwiML(t *testing.T) {
	got := invalidInputTwiML("alice", "https://example.com/oncall/twilio/prompt?alertId=a1&token=t1")
	want := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<Response>` +
		`<Say voice="alice">Sorry, I did not understand.</Say>` +
		`<Redirect method="POST">https://example.com/oncall/twilio/prompt?alertId=a1&amp;token=t1</Redirect>` +
		`</Response>`
	require.Equal(t, want, got)
}

func TestMissingEntityTwiML(t *testing.T) {
	got := assignmentMissingTwiML("alice")
	require.Contains(t, got, "This page is no longer active. Please contact the operations team.")
	require.Contains(t, got, "<Hangup/>")

	got = alertMissingTwiML("alice")
	require.Contains(t, got, "This alert is no longer available. Please contact the operations team.")
	require.Contains(t, got, "<Hangup/>")
}
