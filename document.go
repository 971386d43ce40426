package strum

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseSong parses a song document from JSON or YAML, trying JSON first. The
// result is returned as parsed; callers that intend to play it should run
// Sanitize.
func ParseSong(data []byte) (Song, error) {
	var song Song
	if errJSON := json.Unmarshal(data, &song); errJSON != nil {
		if errYaml := yaml.Unmarshal(data, &song); errYaml != nil {
			return Song{}, fmt.Errorf("the song could not be parsed as json (%v) or yaml (%v)", errJSON, errYaml)
		}
	}
	return song, nil
}

// Marshal serializes the song structure as YAML.
func (s *Song) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("could not marshal song: %w", err)
	}
	return data, nil
}
