// Package petition holds the static petition content and the figures derived
// from it: progress toward the goal, the creator profile link and the share link.
package petition

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"petition/api/internal/handle"
)

//go:embed default.yaml
var defaultYAML []byte

type Creator struct {
	Handle string `yaml:"handle" json:"handle"`
	Avatar string `yaml:"avatar" json:"avatar"`
}

// Data is loaded once at startup and never changes.
type Data struct {
	Title             string  `yaml:"title" json:"title"`
	Target            string  `yaml:"target" json:"target"`
	Description       string  `yaml:"description" json:"description"`
	CurrentSignatures int     `yaml:"current_signatures" json:"current_signatures"`
	GoalSignatures    int     `yaml:"goal_signatures" json:"goal_signatures"`
	Creator           Creator `yaml:"creator" json:"creator"`
}

// Default returns the petition shipped with the binary.
func Default() (Data, error) {
	return parse(defaultYAML)
}

// Load reads petition content from a YAML file, or the built-in petition when
// path is empty.
func Load(path string) (Data, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("read petition file: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (Data, error) {
	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return Data{}, fmt.Errorf("parse petition: %w", err)
	}
	if data.Title == "" {
		return Data{}, fmt.Errorf("parse petition: title is required")
	}
	if data.GoalSignatures <= 0 {
		return Data{}, fmt.Errorf("parse petition: goal_signatures must be positive")
	}
	data.Creator.Handle = handle.Normalize(data.Creator.Handle)
	return data, nil
}

// CreatorProfileURL links to the creator's profile on x.com.
func (d Data) CreatorProfileURL() string {
	return "https://x.com/" + handle.Bare(d.Creator.Handle)
}

// Progress toward the goal. Current counts the base figure plus every signature
// in the list.
type Progress struct {
	Current      int     `json:"current"`
	Goal         int     `json:"goal"`
	Percent      float64 `json:"percent"`
	BarPercent   float64 `json:"bar_percent"`
	GoalAchieved bool    `json:"goal_achieved"`
	Label        string  `json:"label"`
}

func (d Data) Progress(listed int) Progress {
	current := d.CurrentSignatures + listed
	p := Progress{Current: current, Goal: d.GoalSignatures}
	if d.GoalSignatures > 0 {
		p.Percent = float64(current) / float64(d.GoalSignatures) * 100
	}
	p.BarPercent = min(p.Percent, 100)
	p.GoalAchieved = current >= d.GoalSignatures
	if p.GoalAchieved {
		p.Label = "GOAL ACHIEVED"
	} else {
		p.Label = fmt.Sprintf("PROGRESS: %.3f%%", p.Percent)
	}
	return p
}

const shareText = "I just committed my support for logical AI development. Programming models > Emotionally charged LLMs. Sign here: "

// ShareIntentURL builds the post-to-X link offered after a signature commits.
func ShareIntentURL(publicURL string) string {
	text := url.QueryEscape(shareText + publicURL)
	return "https://twitter.com/intent/tweet?text=" + strings.ReplaceAll(text, "+", "%20")
}
