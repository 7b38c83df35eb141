package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Actor is a deceased person awaiting enrichment. PersonID is the numeric
// part of the IMDb name identifier (nconst "nm0000123" -> 123).
type Actor struct {
	PersonID   int64   `json:"person_id"`
	Name       string  `json:"name"`
	BirthYear  int     `json:"birth_year,omitempty"`
	DeathYear  int     `json:"death_year,omitempty"`
	Popularity float64 `json:"popularity,omitempty"`
}

// IMDbID renders the canonical nconst form ("nm" + zero-padded id).
func (a Actor) IMDbID() string {
	return FormatNconst(a.PersonID)
}

// Movie is a title row from the IMDb title.basics dataset.
type Movie struct {
	TitleID   int64  `json:"title_id"`
	Title     string `json:"title"`
	StartYear int    `json:"start_year,omitempty"`
}

// CastEntry links an actor to a title with their billing order and
// character names, from title.principals.
type CastEntry struct {
	TitleID    int64  `json:"title_id"`
	PersonID   int64  `json:"person_id"`
	Ordering   int    `json:"ordering"`
	Category   string `json:"category"`
	Characters string `json:"characters,omitempty"`
}

// DeadCastMember is the join of a cast entry with the actor's death data,
// served by the /died endpoint.
type DeadCastMember struct {
	PersonID   int64  `json:"person_id"`
	Name       string `json:"name"`
	BirthYear  int    `json:"birth_year,omitempty"`
	DeathYear  int    `json:"death_year"`
	Characters string `json:"characters,omitempty"`
	Ordering   int    `json:"ordering"`
}

// FormatNconst renders a numeric person ID as an IMDb nconst ("nm0000123").
// IMDb pads to seven digits but has outgrown the pad for newer IDs.
func FormatNconst(id int64) string {
	return fmt.Sprintf("nm%07d", id)
}

// FormatTconst renders a numeric title ID as an IMDb tconst ("tt0000123").
func FormatTconst(id int64) string {
	return fmt.Sprintf("tt%07d", id)
}

// ParseIMDbID strips the two-letter prefix from an IMDb identifier and
// returns the numeric part. Accepts bare numbers too.
func ParseIMDbID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if len(s) > 2 {
		prefix := s[:2]
		if prefix == "nm" || prefix == "tt" {
			s = s[2:]
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid IMDb id %q", s)
	}
	return id, nil
}
