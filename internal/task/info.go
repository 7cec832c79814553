package task

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kschmeckpeper/manipulathor/internal/sim"
)

// AgentStart is an optional initial pose for an episode.
type AgentStart struct {
	Position sim.Vec3 `json:"position"`
	Rotation float64  `json:"rotation"`
	Horizon  float64  `json:"horizon"`
}

// Info describes one bring-object episode.
type Info struct {
	SceneName      string      `json:"scene_name"`
	SourceObjectID string      `json:"source_object_id"`
	GoalObjectID   string      `json:"goal_object_id"`
	AgentStart     *AgentStart `json:"agent_start,omitempty"`
	// SourceInitial is where the source object started. When nil the
	// position at task construction is used.
	SourceInitial *sim.Vec3 `json:"source_initial_location,omitempty"`
}

// Validate checks that the episode names both objects and a scene.
func (i Info) Validate() error {
	switch {
	case i.SceneName == "":
		return errors.New("episode has no scene_name")
	case i.SourceObjectID == "":
		return fmt.Errorf("episode in %s has no source_object_id", i.SceneName)
	case i.GoalObjectID == "":
		return fmt.Errorf("episode in %s has no goal_object_id", i.SceneName)
	}
	return nil
}

// LoadEpisodes reads one Info per line. Blank lines and lines starting with
// '#' are skipped.
func LoadEpisodes(r io.Reader) ([]Info, error) {
	var out []Info
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var info Info
		if err := json.Unmarshal([]byte(text), &info); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := info.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, info)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Category is the object type prefix of a simulator object id.
func Category(objectID string) string {
	cat, _, _ := strings.Cut(objectID, "|")
	return cat
}

// RoomType maps an iTHOR scene name to its room type.
func RoomType(scene string) string {
	s := strings.TrimPrefix(scene, "FloorPlan")
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || s == scene {
		return "Unknown"
	}
	switch n / 100 {
	case 0:
		return "Kitchen"
	case 2:
		return "LivingRoom"
	case 3:
		return "Bedroom"
	case 4:
		return "Bathroom"
	}
	return "Unknown"
}
