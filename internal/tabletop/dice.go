package tabletop

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	MaxDiceCount = 100
	MaxDieSides  = 1000
)

var ErrInvalidDice = errors.New("invalid dice notation")

var diceNotation = regexp.MustCompile(`^(\d{0,3})d(\d{1,4})([+-]\d{1,5})?$`)

// Dice is a parsed NdM[+K] expression.
type Dice struct {
	Count    int
	Sides    int
	Modifier int
}

func (d Dice) String() string {
	switch {
	case d.Modifier > 0:
		return fmt.Sprintf("%dd%d+%d", d.Count, d.Sides, d.Modifier)
	case d.Modifier < 0:
		return fmt.Sprintf("%dd%d%d", d.Count, d.Sides, d.Modifier)
	}
	return fmt.Sprintf("%dd%d", d.Count, d.Sides)
}

// ParseDice parses notation such as "2d6", "d20" or "3d8-1".
func ParseDice(notation string) (Dice, error) {
	m := diceNotation.FindStringSubmatch(strings.ToLower(strings.ReplaceAll(notation, " ", "")))
	if m == nil {
		return Dice{}, fmt.Errorf("%w: %q", ErrInvalidDice, notation)
	}

	d := Dice{Count: 1}
	if m[1] != "" {
		d.Count, _ = strconv.Atoi(m[1])
	}
	d.Sides, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		d.Modifier, _ = strconv.Atoi(m[3])
	}

	if d.Count < 1 || d.Count > MaxDiceCount {
		return Dice{}, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidDice, MaxDiceCount)
	}
	if d.Sides < 2 || d.Sides > MaxDieSides {
		return Dice{}, fmt.Errorf("%w: sides must be between 2 and %d", ErrInvalidDice, MaxDieSides)
	}
	return d, nil
}

// Roll is the outcome of one dice expression.
type Roll struct {
	Notation string `json:"notation"`
	Rolls    []int  `json:"rolls"`
	Modifier int    `json:"modifier"`
	Total    int    `json:"total"`
}

// RollDice rolls d with the session's generator, seeding it from now on
// first use.
func (s *Session) RollDice(d Dice, now time.Time) Roll {
	if s.rng == nil {
		seed := uint64(now.UnixNano())
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return d.roll(s.rng)
}

func (d Dice) roll(rng *rand.Rand) Roll {
	r := Roll{
		Notation: d.String(),
		Rolls:    make([]int, d.Count),
		Modifier: d.Modifier,
		Total:    d.Modifier,
	}
	for i := range r.Rolls {
		r.Rolls[i] = rng.IntN(d.Sides) + 1
		r.Total += r.Rolls[i]
	}
	return r
}
