// Package metrics records saga stage metrics. Stages depend on Recorder only.
package metrics

// Recorder receives stage level measurements.
type Recorder interface {
	StageOutcome(stage, outcome string)
	PaymentAttempt(outcome string)
	Compensation(outcome string)
	ThresholdReached(storeID string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) StageOutcome(string, string) {}
func (Nop) PaymentAttempt(string)       {}
func (Nop) Compensation(string)         {}
func (Nop) ThresholdReached(string)     {}

type multi []Recorder

// Multi fans every measurement out to rs.
func Multi(rs ...Recorder) Recorder {
	return multi(rs)
}

func (m multi) StageOutcome(stage, outcome string) {
	for _, r := range m {
		r.StageOutcome(stage, outcome)
	}
}

func (m multi) PaymentAttempt(outcome string) {
	for _, r := range m {
		r.PaymentAttempt(outcome)
	}
}

func (m multi) Compensation(outcome string) {
	for _, r := range m {
		r.Compensation(outcome)
	}
}

func (m multi) ThresholdReached(storeID string) {
	for _, r := range m {
		r.ThresholdReached(storeID)
	}
}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
