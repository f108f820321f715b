package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/internal/ipfilter"
	"github.com/lessucettes/meshguard/internal/policy"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
	"github.com/lessucettes/meshguard/testutils"
)

// --- helpers ---

func writeTempConfig(t *testing.T, dir, extra string) string {
	t.Helper()

	text := "" +
		"[database]\n" +
		"path = " + strconvQuote(filepath.Join(dir, "badgerdb")) + "\n" +
		"\n" +
		"[ip_filter]\n" +
		"blocked = [\"6.6.6.0/24\"]\n" +
		"refresh_interval = \"0s\"\n" +
		"\n" +
		"[filters.keywords]\n" +
		"enabled = true\n" +
		"words = [\"malware\"]\n" +
		"\n" +
		"[filters.watched_keywords]\n" +
		"enabled = true\n" +
		"words = [\"adult\"]\n" +
		"\n" +
		"[urn_blacklist]\n" +
		"enabled = true\n" +
		"blocked = [\"urn:sha1:PLSTHIPQGSSZTS5FJUPAKUZWUGYQYPFB\"]\n" +
		extra

	p := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(p, []byte(text), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return p
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// prepareApp builds the full runtime from a temp config tailored for tests.
func prepareApp(t *testing.T) *app {
	t.Helper()
	tmp := t.TempDir()
	configPath := writeTempConfig(t, tmp, "")

	cfg, _, err := config.Load(configPath, false)
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}

	a, err := newApp(cfg, false, []string{"5.5.5.5"})
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func inputLine(t *testing.T, dir policy.Direction, msg *message.Message) []byte {
	t.Helper()
	b, err := json.Marshal(MessageInput{Direction: dir, Message: *msg})
	if err != nil {
		t.Fatalf("failed to encode input: %v", err)
	}
	return b
}

// runProcess runs processMessages with provided lines and returns all output lines written.
func runProcess(t *testing.T, a *app, lines [][]byte) ([][]byte, error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var in bytes.Buffer
	for _, ln := range lines {
		in.Write(ln)
		in.WriteByte('\n')
	}

	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		err := processMessages(ctx, &in, pw, a.current, a.watched)
		_ = pw.Close()
		errCh <- err
	}()

	var out [][]byte
	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		out = append(out, append([]byte(nil), scanner.Bytes()...))
	}
	readErr := scanner.Err()
	procErr := <-errCh
	if readErr != nil {
		return out, readErr
	}
	return out, procErr
}

func decode(t *testing.T, line []byte) policy.Decision {
	t.Helper()
	var d policy.Decision
	if err := json.Unmarshal(line, &d); err != nil {
		t.Fatalf("failed to decode decision: %v; raw=%s", err, string(line))
	}
	return d
}

// --- tests ---

func TestProcessMessages_Decisions(t *testing.T) {
	a := prepareApp(t)

	query := testutils.MakeQuery("holiday photos")
	lines := [][]byte{
		inputLine(t, policy.DirectionRoute, query),
		inputLine(t, policy.DirectionRoute, testutils.MakeQuery("holiday photos")),
		inputLine(t, policy.DirectionPersonal, testutils.MakeReply("1.2.3.4:6346", "photo.jpg")),
		inputLine(t, policy.DirectionPersonal, testutils.MakeReply("6.6.6.6:6346", "photo.jpg")),
		inputLine(t, policy.DirectionPersonal, testutils.MakeReply("5.5.5.5:6346", "photo.jpg")),
		inputLine(t, policy.DirectionPersonal, testutils.MakeReply("1.2.3.4:6346", "malware.exe")),
	}

	out, err := runProcess(t, a, lines)
	if err != nil {
		t.Fatalf("processMessages returned error: %v", err)
	}
	if len(out) != len(lines) {
		t.Fatalf("expected %d output lines, got %d", len(lines), len(out))
	}

	want := []struct {
		action string
		filter string
	}{
		{policy.ActionAllow, ""},
		{policy.ActionDrop, "DuplicateFilter"},
		{policy.ActionAllow, ""},
		{policy.ActionDrop, "AddressFilter"},
		{policy.ActionDrop, "AddressFilter"},
		{policy.ActionDrop, "KeywordFilter"},
	}
	for i, w := range want {
		d := decode(t, out[i])
		if d.Action != w.action || d.Filter != w.filter {
			t.Fatalf("line %d: want %s/%s, got %s/%s (reason %q)", i, w.action, w.filter, d.Action, d.Filter, d.Reason)
		}
	}
	if d := decode(t, out[0]); d.GUID != query.GUID {
		t.Fatalf("guid mismatch: want %s got %s", query.GUID, d.GUID)
	}
}

func TestProcessMessages_MalformedInput(t *testing.T) {
	a := prepareApp(t)

	lines := [][]byte{
		[]byte("{this is not json}"),
		[]byte(`{"direction":"sideways","message":{"kind":"ping"}}`),
		[]byte(`{"direction":"route","message":{"kind":"query"}}`),
	}
	out, err := runProcess(t, a, lines)
	if err != nil {
		t.Fatalf("unexpected error from processMessages: %v", err)
	}
	if len(out) != len(lines) {
		t.Fatalf("expected one output line per input, got %d", len(out))
	}
	for i, line := range out {
		if !strings.Contains(string(line), `"action":"drop"`) {
			t.Fatalf("line %d: expected drop, got %s", i, string(line))
		}
	}
}

func TestProcessMessages_WatchedSearches(t *testing.T) {
	a := prepareApp(t)

	reply := testutils.MakeReply("1.2.3.4:6346", "adult clip.mpg")
	guid := reply.GUID.String()
	blacklisted := testutils.MakeReply("1.2.3.4:6346")
	blacklisted.Reply.Results = []message.Result{{Name: "song.mp3", URN: "urn:sha1:PLSTHIPQGSSZTS5FJUPAKUZWUGYQYPFB"}}

	lines := [][]byte{
		inputLine(t, policy.DirectionPersonal, reply),
		[]byte(`{"op":"watch","guid":"` + guid + `"}`),
		inputLine(t, policy.DirectionPersonal, reply),
		[]byte(`{"op":"unwatch","guid":"` + guid + `"}`),
		inputLine(t, policy.DirectionPersonal, reply),
		[]byte(`{"op":"rename","guid":"` + guid + `"}`),
		inputLine(t, policy.DirectionPersonal, blacklisted),
	}
	out, err := runProcess(t, a, lines)
	if err != nil {
		t.Fatalf("processMessages returned error: %v", err)
	}
	if len(out) != len(lines) {
		t.Fatalf("expected %d output lines, got %d", len(lines), len(out))
	}

	if d := decode(t, out[0]); !d.Allowed() {
		t.Fatalf("unwatched reply should pass, got %+v", d)
	}
	var ctl ControlOutput
	if err := json.Unmarshal(out[1], &ctl); err != nil || ctl.Op != "watch" || ctl.Watched != 1 {
		t.Fatalf("unexpected watch ack %s (err %v)", out[1], err)
	}
	if d := decode(t, out[2]); d.Allowed() || d.Filter != "WatchedKeywordFilter" {
		t.Fatalf("watched reply should be dropped, got %+v", d)
	}
	if err := json.Unmarshal(out[3], &ctl); err != nil || ctl.Watched != 0 {
		t.Fatalf("unexpected unwatch ack %s (err %v)", out[3], err)
	}
	if d := decode(t, out[4]); !d.Allowed() {
		t.Fatalf("reply after unwatch should pass, got %+v", d)
	}
	if !strings.Contains(string(out[5]), `"action":"drop"`) {
		t.Fatalf("unknown op should be rejected, got %s", out[5])
	}
	if d := decode(t, out[6]); d.Allowed() || d.Filter != "URNFilter" {
		t.Fatalf("blacklisted URN should be dropped, got %+v", d)
	}
}

func TestApp_Reload(t *testing.T) {
	a := prepareApp(t)
	ctx := context.Background()

	reply := testutils.MakeReply("7.7.7.7:6346", "photo.jpg")
	if d, _ := a.current().Process(ctx, policy.DirectionPersonal, reply); !d.Allowed() {
		t.Fatalf("expected 7.7.7.7 to be allowed before reload, got %+v", d)
	}

	next := config.Default()
	next.IPFilter.Blocked = []string{"7.7.7.0/24"}
	a.reload(next)
	if a.provider.Current() != next {
		t.Fatal("reload did not publish the new configuration")
	}

	// The scheduler is not running in this test, so refresh directly.
	ipfilter.RefreshAndWait(a.address)

	if d, _ := a.current().Process(ctx, policy.DirectionPersonal, testutils.MakeReply("7.7.7.7:6346", "photo.jpg")); d.Allowed() {
		t.Fatal("expected 7.7.7.7 to be dropped after reload")
	}
}

func TestValidateConfiguration_ValidAndInvalid(t *testing.T) {
	tmp := t.TempDir()

	validPath := writeTempConfig(t, tmp, "")
	if err := validateConfiguration(validPath); err != nil {
		t.Fatalf("validateConfiguration(valid) unexpected error: %v", err)
	}

	// invalid: geo filter without a readable database
	invalidPath := writeTempConfig(t, t.TempDir(), "\n[ip_filter.geo]\nenabled = true\ndatabase_path = "+
		strconvQuote(filepath.Join(tmp, "missing.csv"))+"\n")
	if err := validateConfiguration(invalidPath); err == nil {
		t.Fatal("validateConfiguration(invalid) expected error, got nil")
	}
}

func TestRunBanCommand(t *testing.T) {
	tmp := t.TempDir()
	configPath := writeTempConfig(t, tmp, "")

	if err := runBanCommand(configPath, false, banCommand{ban: "9.9.9.*", duration: time.Hour}, io.Discard); err != nil {
		t.Fatalf("ban failed: %v", err)
	}

	var out bytes.Buffer
	if err := runBanCommand(configPath, false, banCommand{list: true}, &out); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "9.9.9.0/24" {
		t.Fatalf("unexpected ban list %q", out.String())
	}

	if err := runBanCommand(configPath, false, banCommand{unban: "9.9.9.0/24"}, io.Discard); err != nil {
		t.Fatalf("unban failed: %v", err)
	}
	if err := runBanCommand(configPath, false, banCommand{unban: "9.9.9.0/24"}, io.Discard); err == nil {
		t.Fatal("expected unbanning twice to fail")
	}
}

func TestRunBanCommand_FeedsAddressPolicy(t *testing.T) {
	tmp := t.TempDir()
	configPath := writeTempConfig(t, tmp, "")
	if err := runBanCommand(configPath, false, banCommand{ban: "8.8.8.8", duration: 0}, io.Discard); err != nil {
		t.Fatalf("ban failed: %v", err)
	}

	cfg, _, err := config.Load(configPath, false)
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	a, err := newApp(cfg, false, nil)
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()

	d, _ := a.current().Process(context.Background(), policy.DirectionPersonal, testutils.MakePush("8.8.8.8:6346"))
	if d.Allowed() {
		t.Fatal("expected banned sender to be dropped")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" 1.2.3.4, ,5.6.7.0/24,")
	if len(got) != 2 || got[0] != "1.2.3.4" || got[1] != "5.6.7.0/24" {
		t.Fatalf("unexpected split %q", got)
	}
	if splitList("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
