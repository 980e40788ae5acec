package handshake

import (
	"sync"
	"testing"

	"github.com/loykin/hylord/internal/logline"
)

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) SendCommand(text string) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
}

func ev(kind logline.Kind, raw string) logline.Event {
	return logline.Event{Kind: kind, Raw: raw}
}

func TestBootPromotesOnce(t *testing.T) {
	tr := New(nil, Config{})
	_, out := tr.Observe(ev(logline.KindServerBooted, "Server Booted"))
	if !out.BecameOnline || tr.State() != Booted {
		t.Fatalf("first boot: out=%+v state=%v", out, tr.State())
	}
	got, out := tr.Observe(ev(logline.KindServerBooted, "Server Booted"))
	if out.BecameOnline {
		t.Fatalf("second boot marker must not promote again")
	}
	if got.Kind != logline.KindUnclassified {
		t.Fatalf("duplicate boot should be demoted, got %v", got.Kind)
	}
}

func TestAuthRequiredIssuesLoginOnlyAfterBoot(t *testing.T) {
	rec := &recorder{}
	tr := New(rec, Config{})

	got, _ := tr.Observe(ev(logline.KindAuthRequired, "No server tokens configured"))
	if got.Kind != logline.KindUnclassified || len(rec.sent) != 0 {
		t.Fatalf("auth prompt before boot must be ignored: %v %v", got.Kind, rec.sent)
	}

	tr.Observe(ev(logline.KindServerBooted, "Server Booted"))
	got, _ = tr.Observe(ev(logline.KindAuthRequired, "No server tokens configured"))
	if got.Kind != logline.KindAuthRequired || tr.State() != AuthRequested {
		t.Fatalf("expected AuthRequired in AuthRequested state, got %v/%v", got.Kind, tr.State())
	}
	if len(rec.sent) != 1 || rec.sent[0] != DefaultLoginCommand {
		t.Fatalf("login command not issued: %v", rec.sent)
	}

	tr.Observe(ev(logline.KindAuthRequired, "No server tokens configured"))
	if len(rec.sent) != 1 {
		t.Fatalf("login must be issued once per request, got %v", rec.sent)
	}
}

func TestAuthURLValidation(t *testing.T) {
	tr := New(&recorder{}, Config{})
	tr.Observe(ev(logline.KindServerBooted, ""))

	good := "https://oauth.accounts.hytale.com/oauth2/device/verify?user_code=X"
	if got, _ := tr.Observe(logline.Event{Kind: logline.KindAuthURLReceived, URL: good}); got.Kind != logline.KindUnclassified {
		t.Fatalf("url before auth request must be demoted")
	}

	tr.Observe(ev(logline.KindAuthRequired, ""))
	cases := map[string]bool{
		good: true,
		"https://accounts.hytale.com/login":                 true,
		"http://oauth.accounts.hytale.com/verify":           false,
		"https://oauth.accounts.hytale.com.evil.io/verify":  false,
		"https://evil.io/?r=oauth.accounts.hytale.com":      false,
		"https://user@oauth.accounts.hytale.com/verify":     false,
		"https://oauth.accounts.hytale.com:8443/verify":     false,
		"javascript:alert(1)":                               false,
		"https://%zz":                                       false,
	}
	for u, ok := range cases {
		got, _ := tr.Observe(logline.Event{Kind: logline.KindAuthURLReceived, URL: u, Raw: u})
		if (got.Kind == logline.KindAuthURLReceived) != ok {
			t.Errorf("url %q: kind %v, want accepted=%v", u, got.Kind, ok)
		}
	}
	if tr.State() != AuthRequested {
		t.Fatalf("url events must not change state, got %v", tr.State())
	}
}

func TestSuccessFromAnyStateAndReset(t *testing.T) {
	tr := New(nil, Config{})
	got, _ := tr.Observe(ev(logline.KindAuthSucceeded, "Authentication successful"))
	if got.Kind != logline.KindAuthSucceeded || tr.State() != Authenticated {
		t.Fatalf("success before boot: %v/%v", got.Kind, tr.State())
	}
	_, out := tr.Observe(ev(logline.KindServerBooted, ""))
	if !out.BecameOnline {
		t.Fatalf("boot after stored credentials must still promote online")
	}
	if tr.State() != Authenticated {
		t.Fatalf("boot must not downgrade authenticated state, got %v", tr.State())
	}

	tr.Reset()
	if tr.State() != NotBooted || tr.Booted() {
		t.Fatalf("reset incomplete: %v booted=%v", tr.State(), tr.Booted())
	}
}

func TestNonAuthEventsPassThrough(t *testing.T) {
	tr := New(nil, Config{})
	in := logline.Event{Kind: logline.KindPlayerJoined, Name: "Steve", Identity: "h"}
	got, out := tr.Observe(in)
	if got != in || out.BecameOnline {
		t.Fatalf("join event altered: %+v %+v", got, out)
	}
}

func TestCustomLoginCommand(t *testing.T) {
	rec := &recorder{}
	tr := New(rec, Config{LoginCommand: " /auth login device ", AllowedHosts: []string{"Example.COM"}})
	tr.Observe(ev(logline.KindServerBooted, ""))
	tr.Observe(ev(logline.KindAuthRequired, ""))
	if len(rec.sent) != 1 || rec.sent[0] != "/auth login device" {
		t.Fatalf("custom login not used: %v", rec.sent)
	}
	got, _ := tr.Observe(logline.Event{Kind: logline.KindAuthURLReceived, URL: "https://login.example.com/x"})
	if got.Kind != logline.KindAuthURLReceived {
		t.Fatalf("subdomain of custom host rejected")
	}
}
