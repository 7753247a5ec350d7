package strategy

import (
	"strconv"
	"strings"
	"time"

	"algotrade/internal/model"
)

// Direction is the recommended action.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Grade tells strong and weak signals apart.
type Grade string

const (
	GradeNone   Grade = ""
	GradeWeak   Grade = "weak"
	GradeStrong Grade = "strong"
)

// Signal is the output of one evaluation.
type Signal struct {
	Direction  Direction   `json:"direction"`
	Grade      Grade       `json:"grade,omitempty"`
	Strength   float64     `json:"strength"`   // [-100, 100]
	Confidence float64     `json:"confidence"` // [0, cap]
	Reasons    []string    `json:"reasons"`
	Risks      []string    `json:"risks"`
	Price      float64     `json:"price"`
	StopLoss   model.Float `json:"stop_loss"`
	TakeProfit model.Float `json:"take_profit"`
	TS         time.Time   `json:"ts"`
	Rules      string      `json:"rules"` // rule-set version
}

// Actionable reports whether the signal asks for a trade.
func (s Signal) Actionable() bool { return s.Direction == Buy || s.Direction == Sell }

// Summary renders a one-paragraph rationale for logs and alerts.
func (s Signal) Summary() string {
	var sb strings.Builder
	sb.WriteString(string(s.Direction))
	if s.Grade != GradeNone {
		sb.WriteString(" (" + string(s.Grade) + ")")
	}
	sb.WriteString(" price=" + fmtF(s.Price, 6))
	sb.WriteString(" strength=" + strconv.FormatFloat(s.Strength, 'f', 0, 64))
	sb.WriteString(" confidence=" + fmtF(s.Confidence, 1) + "%")
	if v, ok := s.StopLoss.Get(); ok {
		sb.WriteString(" sl=" + fmtF(v, 6))
	}
	if v, ok := s.TakeProfit.Get(); ok {
		sb.WriteString(" tp=" + fmtF(v, 6))
	}
	if len(s.Reasons) > 0 {
		sb.WriteString(" | reasons: " + strings.Join(s.Reasons, "; "))
	}
	if len(s.Risks) > 0 {
		sb.WriteString(" | risks: " + strings.Join(s.Risks, "; "))
	}
	return sb.String()
}

func fmtF(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
