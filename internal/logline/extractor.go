package logline

import (
	"regexp"
	"strings"
)

// Extractor turns one sanitized line into at most one Event. Implementations
// hold every text pattern so supervisors and schedulers never depend on the
// upstream log wording.
type Extractor interface {
	Extract(line string) Event
}

// rule is one entry of the precedence table; build returns false when the
// pattern matched but produced nothing usable.
type rule struct {
	re    *regexp.Regexp
	build func(m []string, re *regexp.Regexp) (Event, bool)
}

type patternExtractor struct {
	rules []rule
}

var (
	banClosedRe = regexp.MustCompile(`(?i)\{\s*Setup\(null\s*\(null,\s*streamId=\d+\)\),\s*(?P<name>[^,]+),\s*(?P<hash>[^,]+),\s*SECURE\s*\}\s*was\s+closed\.`)
	leaveRe     = regexp.MustCompile(`(?i)Checking objectives for disconnecting player\s+(?P<name>[^\s]+)\s+\((?P<hash>[^)]+)\)`)
	joinRe      = regexp.MustCompile(`(?i)Mutual authentication complete for\s+(?P<name>[^\s]+)\s+\((?P<hash>[^)]+)\)`)
	opAddRe     = regexp.MustCompile(`(?i)(?:^|[\s\]:])(?P<name>[^\s\]:]+)\s+is now an operator`)
	opRemoveRe  = regexp.MustCompile(`(?i)(?:^|[\s\]:])(?P<name>[^\s\]:]+)\s+is no longer an operator`)
	bootedRe    = regexp.MustCompile(`(?i)server booted`)
	noTokensRe  = regexp.MustCompile(`(?i)no server tokens configured`)
	authOKRe    = regexp.MustCompile(`(?i)authentication successful`)
	urlRe       = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

// NewExtractor returns the default extractor for the game server's console.
func NewExtractor() Extractor {
	return &patternExtractor{rules: []rule{
		{banClosedRe, player(KindPlayerLeft)},
		{leaveRe, player(KindPlayerLeft)},
		{joinRe, player(KindPlayerJoined)},
		{opAddRe, opChange(true)},
		{opRemoveRe, opChange(false)},
		{bootedRe, marker(KindServerBooted)},
		{noTokensRe, marker(KindAuthRequired)},
		{authOKRe, marker(KindAuthSucceeded)},
		{urlRe, func(m []string, _ *regexp.Regexp) (Event, bool) {
			return Event{Kind: KindAuthURLReceived, URL: strings.TrimRight(m[0], ".,;)")}, true
		}},
	}}
}

// Extract applies the rules in precedence order; the first match wins.
func (p *patternExtractor) Extract(line string) Event {
	for _, r := range p.rules {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ev, ok := r.build(m, r.re)
		if !ok {
			continue
		}
		ev.Raw = line
		ev.Severity = SeverityInfo
		return ev
	}
	return Unclassified(line)
}

// Classify sanitizes raw and extracts its event.
func Classify(x Extractor, raw string) Event {
	return x.Extract(Sanitize(raw))
}

func group(m []string, re *regexp.Regexp, name string) string {
	i := re.SubexpIndex(name)
	if i < 0 || i >= len(m) {
		return ""
	}
	return strings.TrimSpace(m[i])
}

func player(kind Kind) func([]string, *regexp.Regexp) (Event, bool) {
	return func(m []string, re *regexp.Regexp) (Event, bool) {
		name := group(m, re, "name")
		if name == "" {
			return Event{}, false
		}
		return Event{Kind: kind, Name: name, Identity: group(m, re, "hash")}, true
	}
}

func opChange(isOp bool) func([]string, *regexp.Regexp) (Event, bool) {
	return func(m []string, re *regexp.Regexp) (Event, bool) {
		name := group(m, re, "name")
		if name == "" {
			return Event{}, false
		}
		return Event{Kind: KindPlayerOpChanged, Name: name, IsOp: isOp}, true
	}
}

func marker(kind Kind) func([]string, *regexp.Regexp) (Event, bool) {
	return func([]string, *regexp.Regexp) (Event, bool) { return Event{Kind: kind}, true }
}
