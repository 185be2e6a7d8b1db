// Package target describes the physical World Archery target faces the
// system can score against: the face diameter used for pixel-to-centimetre
// calibration and the concentric ring table used to score an impact by its
// radial distance from centre.
package target

import "fmt"

// Face identifies a supported target face size.
type Face string

const (
	Face80  Face = "80cm"
	Face122 Face = "122cm"
)

// Ring is one scoring band of a target face. An impact scores Score when its
// radial distance from centre is at most RadiusCM.
type Ring struct {
	Score    int     `json:"score"`
	RadiusCM float64 `json:"radius_cm"`
	Colour   string  `json:"colour"`
}

// faces holds the ring tables for the supported WA faces. Rings are ordered
// innermost first so scoring can return on the first match.
var faces = map[Face]struct {
	diameterCM float64
	rings      []Ring
}{
	Face80: {
		diameterCM: 80,
		rings: []Ring{
			{Score: 10, RadiusCM: 4.0, Colour: "gold"},
			{Score: 9, RadiusCM: 8.0, Colour: "gold"},
			{Score: 8, RadiusCM: 16.0, Colour: "red"},
			{Score: 7, RadiusCM: 24.0, Colour: "red"},
			{Score: 6, RadiusCM: 32.0, Colour: "blue"},
			{Score: 5, RadiusCM: 40.0, Colour: "blue"},
		},
	},
	Face122: {
		diameterCM: 122,
		rings: []Ring{
			{Score: 10, RadiusCM: 6.1, Colour: "gold"},
			{Score: 9, RadiusCM: 12.2, Colour: "gold"},
			{Score: 8, RadiusCM: 24.4, Colour: "red"},
			{Score: 7, RadiusCM: 36.6, Colour: "red"},
			{Score: 6, RadiusCM: 48.8, Colour: "blue"},
			{Score: 5, RadiusCM: 61.0, Colour: "blue"},
		},
	},
}

// ParseFace validates a face label from the control surface.
func ParseFace(s string) (Face, error) {
	switch Face(s) {
	case Face80:
		return Face80, nil
	case Face122:
		return Face122, nil
	}
	return "", fmt.Errorf("unsupported target size %q (want %q or %q)", s, Face80, Face122)
}

// DiameterCM returns the physical diameter of the face in centimetres.
func (f Face) DiameterCM() float64 {
	return faces[f].diameterCM
}

// Rings returns the scoring bands of the face, innermost first.
func (f Face) Rings() []Ring {
	return faces[f].rings
}

// Score maps a radial distance from centre to a ring score. Distances beyond
// the outermost ring score zero (a miss).
func (f Face) Score(distanceCM float64) int {
	for _, r := range faces[f].rings {
		if distanceCM <= r.RadiusCM {
			return r.Score
		}
	}
	return 0
}

// Valid reports whether f names a supported face.
func (f Face) Valid() bool {
	_, ok := faces[f]
	return ok
}
