package reader

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// robotsTTL bounds how long a fetched robots.txt is trusted.
const robotsTTL = 30 * time.Minute

// RobotsGate answers whether a URL may be fetched over the raw path. Rules
// are fetched per host and cached in memory. Fetch failures fail open: a
// site that cannot serve robots.txt does not block reading.
type RobotsGate struct {
	HTTPClient *http.Client
	UserAgent  string
	// TTL overrides the cache lifetime; 0 means 30 minutes.
	TTL time.Duration

	mu    sync.Mutex
	hosts map[string]robotsEntry
	now   func() time.Time
}

type robotsEntry struct {
	rules  robotsRules
	expiry time.Time
}

// Allowed reports whether target may be fetched for the gate's user agent.
func (g *RobotsGate) Allowed(ctx context.Context, target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return true
	}
	rules := g.rulesFor(ctx, u)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rules.allows(g.UserAgent, path)
}

func (g *RobotsGate) rulesFor(ctx context.Context, u *url.URL) robotsRules {
	if g.now == nil {
		g.now = time.Now
	}
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	if g.hosts == nil {
		g.hosts = make(map[string]robotsEntry)
	}
	if ent, ok := g.hosts[key]; ok && g.now().Before(ent.expiry) {
		g.mu.Unlock()
		return ent.rules
	}
	g.mu.Unlock()

	rules := g.fetch(ctx, key+"/robots.txt")

	ttl := g.TTL
	if ttl <= 0 {
		ttl = robotsTTL
	}
	g.mu.Lock()
	g.hosts[key] = robotsEntry{rules: rules, expiry: g.now().Add(ttl)}
	g.mu.Unlock()
	return rules
}

// fetch retrieves and parses one robots.txt. Any failure yields empty rules,
// which allow everything.
func (g *RobotsGate) fetch(ctx context.Context, robotsURL string) robotsRules {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return robotsRules{}
	}
	if g.UserAgent != "" {
		req.Header.Set("User-Agent", g.UserAgent)
	}
	client := g.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", robotsURL).Msg("robots fetch failed, allowing")
		return robotsRules{}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return robotsRules{}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return robotsRules{}
	}
	return parseRobots(string(body))
}

type robotsGroup struct {
	agents   []string
	allow    []string
	disallow []string
}

type robotsRules struct {
	groups []robotsGroup
}

func parseRobots(text string) robotsRules {
	var groups []robotsGroup
	current := robotsGroup{}
	flush := func() {
		if len(current.agents) == 0 && len(current.allow) == 0 && len(current.disallow) == 0 {
			return
		}
		groups = append(groups, current)
		current = robotsGroup{}
	}
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "user-agent":
			// A user-agent line after directives starts a new group.
			if len(current.agents) > 0 && (len(current.allow) > 0 || len(current.disallow) > 0) {
				flush()
			}
			current.agents = append(current.agents, strings.ToLower(val))
		case "allow":
			current.allow = append(current.allow, val)
		case "disallow":
			current.disallow = append(current.disallow, val)
		}
	}
	flush()
	return robotsRules{groups: groups}
}

// allows evaluates the most specific matching directive in the best-matching
// agent group. Longest pattern wins; on a tie, allow beats disallow; with no
// match the default is allow.
func (r robotsRules) allows(userAgent, path string) bool {
	gi := r.groupFor(userAgent)
	if gi < 0 {
		return true
	}
	grp := r.groups[gi]

	bestScore := -1
	bestAllow := true
	consider := func(patterns []string, isAllow bool) {
		for _, p := range patterns {
			if p == "" || !robotsMatch(p, path) {
				continue
			}
			score := len(strings.ReplaceAll(strings.TrimSuffix(p, "$"), "*", ""))
			if score > bestScore || (score == bestScore && isAllow && !bestAllow) {
				bestScore, bestAllow = score, isAllow
			}
		}
	}
	consider(grp.disallow, false)
	consider(grp.allow, true)
	if bestScore == -1 {
		return true
	}
	return bestAllow
}

// groupFor picks the group with the longest agent token contained in the
// user agent; "*" matches anything but loses to any named match.
func (r robotsRules) groupFor(userAgent string) int {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	best, bestScore := -1, -1
	for i, g := range r.groups {
		for _, a := range g.agents {
			token := strings.ToLower(strings.TrimSpace(a))
			var score int
			switch {
			case token == "*":
				score = 0
			case token != "" && strings.Contains(ua, token):
				score = len(token)
			default:
				continue
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	return best
}

// robotsMatch matches a robots pattern against a path. '*' matches any
// sequence; a trailing '$' anchors the end. Matching is anchored at the
// start of the path.
func robotsMatch(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")
	segs := strings.Split(pattern, "*")

	// An anchored non-empty last segment must end the path; peel it off and
	// match the rest against the shortened path.
	if anchored {
		last := segs[len(segs)-1]
		if last != "" {
			if !strings.HasSuffix(path, last) {
				return false
			}
			if len(segs) == 1 {
				return path == last
			}
			path = path[:len(path)-len(last)]
			segs = segs[:len(segs)-1]
		}
	}

	pos := 0
	for i, seg := range segs {
		if seg == "" {
			continue
		}
		if i == 0 {
			if !strings.HasPrefix(path, seg) {
				return false
			}
			pos = len(seg)
			continue
		}
		idx := strings.Index(path[pos:], seg)
		if idx < 0 {
			return false
		}
		pos += idx + len(seg)
	}
	return true
}
