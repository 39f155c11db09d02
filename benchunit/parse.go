// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package benchunit interprets benchmark units.
//
// The only property the alerting pipeline needs from a unit is its
// direction of goodness: whether a smaller value is an improvement
// (durations, bytes, allocations) or a regression (throughput such as
// "B/s" or "i/s").
package benchunit

import (
	"fmt"
	"unicode"
)

// A Direction says which way a measured value should move to be an
// improvement.
type Direction int

const (
	// LessIsBetter indicates that smaller values are improvements.
	// This is the default for any unit that is not a rate.
	LessIsBetter Direction = iota
	// MoreIsBetter indicates that larger values are improvements.
	// Rates such as "B/s", "i/s" and "items/sec" are MoreIsBetter.
	MoreIsBetter
)

func (d Direction) String() string {
	switch d {
	case LessIsBetter:
		return "LessIsBetter"
	case MoreIsBetter:
		return "MoreIsBetter"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// timeTokens are the unit tokens that denote a time interval.
var timeTokens = map[string]bool{
	"s": true, "sec": true, "secs": true, "second": true, "seconds": true,
	"ms": true, "us": true, "µs": true, "ns": true,
	"min": true, "minute": true, "h": true, "hr": true, "hour": true,
}

// DirectionOf returns the Direction of unit. A unit is MoreIsBetter
// if it has a time token in its denominator and none in its
// numerator, which makes it a rate. Everything else, including the
// empty unit, is LessIsBetter.
func DirectionOf(unit string) Direction {
	p := newParser(unit)
	timeNum, timeDenom := false, false
	for p.next() {
		if !timeTokens[p.tok] {
			continue
		}
		if p.denom {
			timeDenom = true
		} else {
			timeNum = true
		}
	}
	if timeDenom && !timeNum {
		return MoreIsBetter
	}
	return LessIsBetter
}

// IsLessBetter reports whether smaller values of unit are improvements.
func IsLessBetter(unit string) bool {
	return DirectionOf(unit) == LessIsBetter
}

type parser struct {
	rest string // unparsed unit

	// Current token
	tok   string
	denom bool // current token is in denominator
}

func newParser(unit string) *parser {
	return &parser{rest: unit}
}

func (p *parser) next() bool {
	// Consume separators.
	for i, r := range p.rest {
		if r == '*' {
			p.denom = false
		} else if r == '/' {
			p.denom = true
		} else if !(r == '-' || unicode.IsSpace(r)) {
			p.rest = p.rest[i:]
			goto tok
		}
	}
	// End of string.
	p.rest = ""
	return false

tok:
	// Consume until separator.
	end := len(p.rest)
	for i, r := range p.rest {
		if r == '*' || r == '/' || r == '-' || unicode.IsSpace(r) {
			end = i
			break
		}
	}
	p.tok = p.rest[:end]
	p.rest = p.rest[end:]
	return true
}
