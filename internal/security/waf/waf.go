// Package waf implements the pattern-matching firewall stage of the
// security gate: four compiled rule groups plus an optional custom
// group, scanned in order against a size-capped view of the request.
package waf

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"
)

// Mode controls what happens on a rule match.
type Mode string

const (
	// Block rejects the request when a rule matches.
	Block Mode = "block"
	// DetectOnly lets the request through but reports the match.
	DetectOnly Mode = "detect"
)

// Severity ranks a rule.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// CustomRule is a user-supplied pattern compiled into the fifth group.
type CustomRule struct {
	ID       string   `json:"id"`
	Pattern  string   `json:"pattern"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
}

// Config holds WAF settings.
type Config struct {
	Enabled     bool         `yaml:"enabled"`
	Mode        Mode         `yaml:"mode"`
	MaxScanSize int          `yaml:"max_scan_size"`
	CustomRules []CustomRule `yaml:"custom_rules"`
}

// DefaultConfig enables blocking with a 1MiB scan cap.
func DefaultConfig() Config {
	return Config{Enabled: true, Mode: Block, MaxScanSize: 1 << 20}
}

// Result is the outcome of one scan.
type Result struct {
	Allowed  bool          `json:"allowed"`
	RuleID   string        `json:"rule_id,omitempty"`
	Category string        `json:"category,omitempty"`
	ScanTime time.Duration `json:"-"`
}

// group is one compiled rule group; first matching group wins.
type group struct {
	ruleID   string
	category string
	patterns []*regexp.Regexp
}

func (g *group) match(content string) bool {
	for _, p := range g.patterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// Engine scans payloads against the compiled groups.
type Engine struct {
	cfg    Config
	groups []*group

	scans   atomic.Int64
	matches atomic.Int64
}

var sqlPatterns = []string{
	`(?i)(\b(select|insert|update|delete|drop|union)\b.*\b(from|into|where|set)\b)`,
	`(?i)(--|#|/\*|\*/)`,
	`(?i)(\b(or|and)\b\s+\d+\s*=\s*\d+)`,
	`(?i)(union\s+(all\s+)?select)`,
}

var xssPatterns = []string{
	`(?i)(<script)`,
	`(?i)(javascript\s*:)`,
	`(?i)(on(load|error|click)\s*=)`,
	`(?i)(eval\s*\()`,
}

var pathPatterns = []string{
	`(\.\./|\.\.\\)`,
	`(?i)(/etc/passwd)`,
	`(?i)(%2e%2e%2f)`,
}

var cmdPatterns = []string{
	`(\||;|\$\(|` + "`" + `)`,
	`(?i)(\b(cat|ls|whoami|id)\b)`,
	`(?i)(/bin/(sh|bash))`,
}

// New compiles the built-in groups and any custom rules. A custom
// pattern that fails to compile is fatal at load time.
func New(cfg Config) (*Engine, error) {
	if cfg.Mode == "" {
		cfg.Mode = Block
	}
	if cfg.MaxScanSize <= 0 {
		cfg.MaxScanSize = 1 << 20
	}

	e := &Engine{cfg: cfg}

	builtin := []struct {
		ruleID   string
		category string
		patterns []string
	}{
		{"SQL-1", "SQL Injection", sqlPatterns},
		{"XSS-1", "Cross-Site Scripting", xssPatterns},
		{"PATH-1", "Path Traversal", pathPatterns},
		{"CMD-1", "Command Injection", cmdPatterns},
	}
	for _, b := range builtin {
		g := &group{ruleID: b.ruleID, category: b.category}
		for _, p := range b.patterns {
			g.patterns = append(g.patterns, regexp.MustCompile(p))
		}
		e.groups = append(e.groups, g)
	}

	for _, cr := range cfg.CustomRules {
		re, err := regexp.Compile(cr.Pattern)
		if err != nil {
			return nil, fmt.Errorf("waf: custom rule %s: %w", cr.ID, err)
		}
		e.groups = append(e.groups, &group{
			ruleID:   cr.ID,
			category: cr.Category,
			patterns: []*regexp.Regexp{re},
		})
	}

	return e, nil
}

// Scan checks content against all groups in order; the first match
// wins. Content beyond the scan cap is ignored.
func (e *Engine) Scan(content string) Result {
	if !e.cfg.Enabled {
		return Result{Allowed: true}
	}

	start := time.Now()
	e.scans.Add(1)

	if len(content) > e.cfg.MaxScanSize {
		content = content[:e.cfg.MaxScanSize]
	}

	for _, g := range e.groups {
		if g.match(content) {
			e.matches.Add(1)
			return Result{
				Allowed:  e.cfg.Mode == DetectOnly,
				RuleID:   g.ruleID,
				Category: g.category,
				ScanTime: time.Since(start),
			}
		}
	}

	return Result{Allowed: true, ScanTime: time.Since(start)}
}

// ScanRequest checks the URL path, raw query, and body prefix. The
// first component to match decides the result.
func (e *Engine) ScanRequest(path, rawQuery string, body []byte) Result {
	if r := e.Scan(path); !clean(r) {
		return r
	}
	if rawQuery != "" {
		if r := e.Scan(rawQuery); !clean(r) {
			return r
		}
	}
	if len(body) > 0 {
		if r := e.Scan(string(body)); !clean(r) {
			return r
		}
	}
	return Result{Allowed: true}
}

func clean(r Result) bool {
	return r.RuleID == ""
}

// Stats returns scan counters.
func (e *Engine) Stats() (scans, matches int64) {
	return e.scans.Load(), e.matches.Load()
}
