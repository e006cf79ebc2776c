package tba

import (
	"fmt"
	"strconv"
)

// Event is the subset of a TBA event the picker filters on.
type Event struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Year      int       `json:"year"`
	StateProv string    `json:"state_prov"`
	District  *District `json:"district"`
}

// District is the district an event belongs to.
type District struct {
	Abbreviation string `json:"abbreviation"`
	DisplayName  string `json:"display_name"`
	Key          string `json:"key"`
}

// DistrictAbbrev returns the district abbreviation, or "" for regionals.
func (e Event) DistrictAbbrev() string {
	if e.District == nil {
		return ""
	}
	return e.District.Abbreviation
}

// Match is the subset of a TBA match carrying videos.
type Match struct {
	Key         string  `json:"key"`
	CompLevel   string  `json:"comp_level"`
	SetNumber   int     `json:"set_number"`
	MatchNumber int     `json:"match_number"`
	EventKey    string  `json:"event_key"`
	Videos      []Video `json:"videos"`
}

// Video is a match video reference.
type Video struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// MatchVideo is a streamable YouTube video of one match.
type MatchVideo struct {
	YouTubeID string `json:"youtube_id"`
	MatchKey  string `json:"match_key"`
	CompLevel string `json:"comp_level"`
	EventKey  string `json:"event_key"`
	Year      int    `json:"year"`
	Label     string `json:"label"`
}

// YearFromKey parses the season prefix of an event or match key such as
// "2024casj". It returns 0 when the key has no numeric year prefix.
func YearFromKey(key string) int {
	if len(key) < 4 {
		return 0
	}
	year, err := strconv.Atoi(key[:4])
	if err != nil {
		return 0
	}
	return year
}

// compLevelNames renders comp levels in labels.
var compLevelNames = map[string]string{
	"qm": "Qualification",
	"ef": "Eighth-final",
	"qf": "Quarterfinal",
	"sf": "Semifinal",
	"f":  "Final",
}

// matchLabel renders a human readable label such as "2024casj Semifinal 2-1".
func matchLabel(m Match) string {
	name, ok := compLevelNames[m.CompLevel]
	if !ok || m.MatchNumber == 0 {
		return m.Key
	}
	if m.CompLevel == "qm" {
		return fmt.Sprintf("%s %s %d", m.EventKey, name, m.MatchNumber)
	}
	return fmt.Sprintf("%s %s %d-%d", m.EventKey, name, m.SetNumber, m.MatchNumber)
}

// ExtractVideos keeps the YouTube videos with a non-empty key.
func ExtractVideos(matches []Match) []MatchVideo {
	var videos []MatchVideo
	for _, m := range matches {
		for _, v := range m.Videos {
			if v.Type != "youtube" || v.Key == "" {
				continue
			}
			videos = append(videos, MatchVideo{
				YouTubeID: v.Key,
				MatchKey:  m.Key,
				CompLevel: m.CompLevel,
				EventKey:  m.EventKey,
				Year:      YearFromKey(m.EventKey),
				Label:     matchLabel(m),
			})
		}
	}
	return videos
}
