package abuse

import (
	"strings"
	"time"
)

// Reason codes attached to an assessment.
const (
	ReasonBot             = "BOT"
	ReasonSuspiciousEmail = "SUSPICIOUS_EMAIL"
	ReasonBotUserAgent    = "BOT_USER_AGENT"
	ReasonFastSubmit      = "FAST_SUBMIT"
)

// Risk weights, combined additively.
const (
	weightHoneypot     = 100
	weightSuspicious   = 30
	weightBotUserAgent = 20
	weightFastSubmit   = 25
)

// Level buckets a risk score for logging and triage.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// LevelFor maps a score to its level: low < 30 <= medium < 60 <= high.
func LevelFor(score int) Level {
	switch {
	case score >= 60:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

// DefaultThreshold is the naturalness score below which an email is suspicious.
const DefaultThreshold = 0.5

// MinFillDuration is the fastest a human plausibly completes the form.
const MinFillDuration = 2 * time.Second

// automationAgents are user agent fragments of scripted HTTP clients.
var automationAgents = []string{
	"curl/",
	"wget/",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"httpclient",
	"okhttp",
	"axios/",
	"node-fetch",
	"scrapy",
	"headlesschrome",
	"phantomjs",
	"bot",
	"spider",
	"crawler",
}

// Input is the raw material for an assessment.
type Input struct {
	LocalPart     string
	Honeypot      string
	UserAgent     string
	FormStartedAt time.Time // zero when the client did not report it
	ReceivedAt    time.Time
}

// Assessment is the outcome of the heuristics.
// Only HardReject (the honeypot) is grounds for dropping a lead.
type Assessment struct {
	Score      int
	Level      Level
	Reasons    []string
	HardReject bool
}

// Suspicious reports whether any heuristic fired.
func (a Assessment) Suspicious() bool {
	return len(a.Reasons) > 0
}

// Assessor combines the heuristics into a risk score.
type Assessor struct {
	scorer    Scorer
	threshold float64
}

// NewAssessor creates an Assessor. A nil scorer uses NaturalnessScorer.
func NewAssessor(scorer Scorer, threshold float64) *Assessor {
	if scorer == nil {
		scorer = NaturalnessScorer{}
	}
	return &Assessor{scorer: scorer, threshold: threshold}
}

// Assess runs every heuristic and returns the combined assessment.
func (a *Assessor) Assess(in Input) Assessment {
	var out Assessment

	if strings.TrimSpace(in.Honeypot) != "" {
		out.HardReject = true
		out.add(ReasonBot, weightHoneypot)
	}

	if a.scorer.Score(in.LocalPart) < a.threshold {
		out.add(ReasonSuspiciousEmail, weightSuspicious)
	}

	if isAutomationAgent(in.UserAgent) {
		out.add(ReasonBotUserAgent, weightBotUserAgent)
	}

	if !in.FormStartedAt.IsZero() && !in.ReceivedAt.IsZero() {
		if elapsed := in.ReceivedAt.Sub(in.FormStartedAt); elapsed >= 0 && elapsed < MinFillDuration {
			out.add(ReasonFastSubmit, weightFastSubmit)
		}
	}

	out.Level = LevelFor(out.Score)
	return out
}

func (a *Assessment) add(reason string, weight int) {
	a.Reasons = append(a.Reasons, reason)
	a.Score += weight
}

func isAutomationAgent(ua string) bool {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return true
	}
	for _, frag := range automationAgents {
		if strings.Contains(ua, frag) {
			return true
		}
	}
	return false
}
