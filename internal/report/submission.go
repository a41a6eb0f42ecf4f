// Package report validates submissions and turns them into observations.
package report

import (
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// MaxDescriptionLength bounds the free-text description.
const MaxDescriptionLength = 500

// Submission is a report as entered on the scan screen or posted to the
// API. Absent fields are nil; a level of 0 is present.
type Submission struct {
	Category    *string  `json:"type" validate:"required,oneof=noise smoke garbage other"`
	Level       *int     `json:"level" validate:"required,gte=0,lte=100"`
	Lat         *float64 `json:"lat" validate:"required,latitude"`
	Lng         *float64 `json:"lng" validate:"required,longitude"`
	Description string   `json:"description" validate:"max=500"`
}

// New builds a submission from the parts a screen has collected.
func New(category types.Category, level *int, pos *types.Position, description string) Submission {
	s := Submission{Level: level, Description: description}
	if category != "" {
		c := string(category)
		s.Category = &c
	}
	if pos != nil {
		lat, lng := pos.Lat, pos.Lng
		s.Lat, s.Lng = &lat, &lng
	}
	return s
}

// Ready reports whether level, category and position are all present.
// Submitting is only offered when it is true.
func (s *Submission) Ready() bool {
	return s.Category != nil && *s.Category != "" &&
		s.Level != nil &&
		s.Lat != nil && s.Lng != nil
}

// Build validates the submission and returns the observation to insert.
// The error is a *types.ValidationError matching types.ErrValidationFailure.
func (s *Submission) Build() (types.Observation, error) {
	if err := Validate(s); err != nil {
		return types.Observation{}, err
	}
	return types.Observation{
		Category:    types.Category(*s.Category),
		Level:       *s.Level,
		Position:    types.Position{Lat: *s.Lat, Lng: *s.Lng},
		Description: s.Description,
	}, nil
}
