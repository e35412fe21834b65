// Package rps plays Rock-Paper-Scissors with time-locked commitments, so
// neither player can see the other's move before both are bound to theirs.
package rps

import (
	"fmt"
	"strings"
)

// Move is a Rock-Paper-Scissors move.
type Move string

const (
	Rock     Move = "rock"
	Paper    Move = "paper"
	Scissors Move = "scissors"
)

// Moves lists every valid move.
var Moves = []Move{Rock, Paper, Scissors}

// ParseMove parses s case-insensitively.
func ParseMove(s string) (Move, error) {
	m := Move(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("invalid move %q", s)
	}
	return m, nil
}

// Valid reports whether m is one of Moves.
func (m Move) Valid() bool {
	switch m {
	case Rock, Paper, Scissors:
		return true
	}
	return false
}

// beats reports whether a defeats b.
func beats(a, b Move) bool {
	return (a == Rock && b == Scissors) ||
		(a == Scissors && b == Paper) ||
		(a == Paper && b == Rock)
}

// Outcome is the result of one round.
type Outcome string

const (
	Tie         Outcome = "tie"
	PlayerAWins Outcome = "player A wins"
	PlayerBWins Outcome = "player B wins"
)

// Resolve decides a round between player A's and player B's moves. Both
// moves must be valid; otherwise the zero Outcome is returned.
func Resolve(a, b Move) Outcome {
	switch {
	case !a.Valid() || !b.Valid():
		return ""
	case a == b:
		return Tie
	case beats(a, b):
		return PlayerAWins
	default:
		return PlayerBWins
	}
}
