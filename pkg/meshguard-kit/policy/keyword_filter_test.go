package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
	"github.com/lessucettes/meshguard/testutils"
)

func TestKeywordFilter(t *testing.T) {
	cfg := &config.KeywordFilterConfig{
		Enabled: true,
		Words:   []string{"malware", "  "},
		Regexps: []string{`(?i)crack(ed)?\.exe`},
	}
	f, err := NewKeywordFilter(cfg)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		msg      *message.Message
		expected bool
		reason   string
	}{
		{name: "Clean query", msg: testutils.MakeQuery("holiday photos"), expected: true},
		{name: "Banned word in query", msg: testutils.MakeQuery("free MALWARE download"), expected: false},
		{name: "Word boundary respected", msg: testutils.MakeQuery("antimalwarepack"), expected: true},
		{name: "Regexp in query", msg: testutils.MakeQuery("game cracked.exe"), expected: false},
		{
			name: "Banned word in rich query",
			msg: testutils.MakeQueryWith(testutils.NewGUID(), 0, &message.Query{
				Text:      "song",
				RichQuery: `<audios><audio title="malware anthem"/></audios>`,
			}),
			expected: false,
		},
		{
			name: "Malformed rich query",
			msg: testutils.MakeQueryWith(testutils.NewGUID(), 0, &message.Query{
				Text:      "song",
				RichQuery: `<audios><audio title="x">`,
			}),
			expected: false,
			reason:   "malformed_rich_query",
		},
		{name: "Clean reply", msg: testutils.MakeReply("1.2.3.4:1", "a.txt", "b.txt"), expected: true},
		{name: "Banned word in reply", msg: testutils.MakeReply("1.2.3.4:1", "a.txt", "malware.zip"), expected: false},
		{name: "Push not checked", msg: testutils.MakePush("1.2.3.4:1"), expected: true},
		{name: "Query without payload", msg: &message.Message{Kind: message.KindQuery}, expected: false, reason: "missing_query_payload"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.Match(tc.msg)
			require.Equal(t, tc.expected, res.Allowed, "reason %s", res.Reason)
			if tc.reason != "" {
				require.Equal(t, tc.reason, res.Reason)
			}
		})
	}
}

func TestKeywordFilter_Disabled(t *testing.T) {
	f, err := NewKeywordFilter(&config.KeywordFilterConfig{Enabled: false, Words: []string{"x"}})
	require.NoError(t, err)
	require.True(t, f.Match(testutils.MakeQuery("x")).Allowed)
}

func TestKeywordFilter_BadRegexp(t *testing.T) {
	_, err := NewKeywordFilter(&config.KeywordFilterConfig{Enabled: true, Regexps: []string{"("}})
	require.Error(t, err)
}

func TestHashQueryFilter(t *testing.T) {
	f, err := NewHashQueryFilter(&config.HashQueryFilterConfig{Enabled: true})
	require.NoError(t, err)

	testCases := []struct {
		name     string
		query    message.Query
		expected bool
	}{
		{name: "URN only", query: message.Query{URNs: []string{"urn:sha1:A"}}, expected: false},
		{name: "URN with blank text", query: message.Query{Text: "  ", URNs: []string{"urn:sha1:A"}}, expected: false},
		{name: "URN with text", query: message.Query{Text: "song", URNs: []string{"urn:sha1:A"}}, expected: true},
		{name: "Text only", query: message.Query{Text: "song"}, expected: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := tc.query
			res := f.Match(testutils.MakeQueryWith(testutils.NewGUID(), 0, &q))
			require.Equal(t, tc.expected, res.Allowed)
		})
	}

	disabled, err := NewHashQueryFilter(&config.HashQueryFilterConfig{})
	require.NoError(t, err)
	q := message.Query{URNs: []string{"urn:sha1:A"}}
	require.True(t, disabled.Match(testutils.MakeQueryWith(testutils.NewGUID(), 0, &q)).Allowed)
}
