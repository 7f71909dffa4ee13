package memory

import (
	"fmt"
	"strings"
)

// Smoothing weights for the priors moving average, in percent.
const (
	emaOldWeight = 85
	emaNewWeight = 15
)

// Priors carries the locally computed behavioral signals. All values are
// integers; rates are percentages in [0,100].
type Priors struct {
	N            uint32
	AvgLen       uint32
	QuestionRate uint32
	CodeRate     uint32
}

// ParsePriors reads the serialized "n=..|al=..|qr=..|cr=.." form. Unknown
// or malformed fields are ignored so a corrupted tier resets gracefully.
func ParsePriors(s string) Priors {
	var p Priors
	for _, field := range strings.Split(s, "|") {
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		var v uint32
		if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
			continue
		}
		switch key {
		case "n":
			p.N = v
		case "al":
			p.AvgLen = v
		case "qr":
			p.QuestionRate = v
		case "cr":
			p.CodeRate = v
		}
	}
	return p
}

func (p Priors) String() string {
	return fmt.Sprintf("n=%d|al=%d|qr=%d|cr=%d", p.N, p.AvgLen, p.QuestionRate, p.CodeRate)
}

// ObservePriors folds one user message into the serialized priors tier. The
// first sample seeds the averages directly; afterwards each signal moves by
// an 85/15 integer exponential average with truncating division.
func ObservePriors(current, msg string) string {
	p := ParsePriors(current)

	length := uint32(len(msg))
	var question uint32
	if strings.Contains(msg, "?") {
		question = 100
	}
	var code uint32
	if strings.Contains(msg, "```") {
		code = 100
	}

	if p.N == 0 {
		p.AvgLen = length
		p.QuestionRate = question
		p.CodeRate = code
	} else {
		p.AvgLen = ema(p.AvgLen, length)
		p.QuestionRate = ema(p.QuestionRate, question)
		p.CodeRate = ema(p.CodeRate, code)
	}
	p.N++
	return TruncateBytes(p.String(), MaxPriorsBytes)
}

func ema(old, sample uint32) uint32 {
	return (old*emaOldWeight + sample*emaNewWeight) / 100
}
