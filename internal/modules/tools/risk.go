// README: Heuristic fraud score consulted before a booking is handed to payment.
package tools

import (
	"context"
	"math"
	"strings"
)

const (
	RiskToolName         = "score_risk"
	DefaultRiskThreshold = 0.7
)

var disposableDomains = map[string]bool{
	"mailinator.com": true, "guerrillamail.com": true, "10minutemail.com": true,
	"tempmail.com": true, "yopmail.com": true, "trashmail.com": true,
}

// RiskInput is supplied by the orchestrator, never by the model.
type RiskInput struct {
	LoggedIn      bool
	Verified      bool
	Email         string
	DailyRate     float64
	Days          int
	SecurityFlags int
}

type RiskAssessment struct {
	Score    float64  `json:"score"`
	HighRisk bool     `json:"highRisk"`
	Reasons  []string `json:"reasons,omitempty"`
}

type RiskTool struct {
	threshold float64
}

// NewRiskTool reads its facts from the turn workspace so the model cannot supply them.
func NewRiskTool(threshold float64) *RiskTool {
	if threshold <= 0 {
		threshold = DefaultRiskThreshold
	}
	return &RiskTool{threshold: threshold}
}

func (t *RiskTool) Threshold() float64 {
	return t.threshold
}

func (t *RiskTool) Contract() Contract {
	return Contract{
		Name:        RiskToolName,
		Description: "Score booking risk for the current caller and selection. Takes no arguments.",
	}
}

func (t *RiskTool) Call(_ context.Context, _ map[string]any, ws *Workspace) (any, error) {
	return Assess(ws.RiskInput(), t.threshold), nil
}

// Assess scores in on [0, 1]; each factor adds a fixed weight.
func Assess(in RiskInput, threshold float64) RiskAssessment {
	var a RiskAssessment
	add := func(w float64, reason string) {
		a.Score += w
		a.Reasons = append(a.Reasons, reason)
	}
	if !in.LoggedIn {
		add(0.2, "anonymous caller")
	}
	if !in.Verified {
		add(0.25, "identity not verified")
	}
	if in.Email == "" {
		add(0.1, "no account email")
	} else if _, domain, ok := strings.Cut(strings.ToLower(in.Email), "@"); ok && disposableDomains[domain] {
		add(0.3, "disposable email domain")
	}
	if in.SecurityFlags > 0 {
		add(math.Min(0.2*float64(in.SecurityFlags), 0.4), "flagged messages in conversation")
	}
	if in.DailyRate >= 300 {
		add(0.15, "high-value vehicle")
	}
	if in.Days > 14 {
		add(0.1, "long rental")
	}
	a.Score = math.Min(math.Round(a.Score*100)/100, 1)
	a.HighRisk = a.Score >= threshold
	return a
}
