package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
)

type Positions struct {
	Items []*Position
}

// Position is a read-only catalog entry. The workflow copies what it needs
// and never writes back.
type Position struct {
	ID              string       `json:"id,omitempty" mapstructure:"id"`
	Title           string       `json:"title,omitempty" mapstructure:"title"`
	Description     string       `json:"description,omitempty" mapstructure:"description"`
	IdealProfile    string       `json:"ideal_profile,omitempty" mapstructure:"ideal-profile"`
	TaskDescription string       `json:"task_description,omitempty" mapstructure:"task-description"`
	Requirements    []string     `json:"requirements,omitempty" mapstructure:"requirements"`
	Location        string       `json:"location,omitempty" mapstructure:"location"`
	Compensation    Compensation `json:"compensation,omitempty" mapstructure:"compensation"`
}

type Compensation struct {
	From     int    `json:"from,omitempty" mapstructure:"from"`
	To       int    `json:"to,omitempty" mapstructure:"to"`
	Currency string `json:"currency,omitempty" mapstructure:"currency"`
}

func (c Compensation) String() string {
	currency := strings.TrimSpace(c.Currency)
	switch {
	case c.From == 0 && c.To == 0:
		return "not specified"
	case c.To == 0:
		return strings.TrimSpace(fmt.Sprintf("from %d %s", c.From, currency))
	case c.From == 0:
		return strings.TrimSpace(fmt.Sprintf("up to %d %s", c.To, currency))
	default:
		return strings.TrimSpace(fmt.Sprintf("%d-%d %s", c.From, c.To, currency))
	}
}

// Decode builds a catalog from loosely typed configuration (a viper
// sub-tree). Requirements may be given either as a list or a single string.
func Decode(raw any) (*Positions, error) {
	var items []*Position

	cfg := &mapstructure.DecoderConfig{
		Result:           &items,
		WeaklyTypedInput: true,
		DecodeHook:       stringToSliceHook,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding positions: %w", err)
	}

	positions := &Positions{Items: items}
	if err := positions.Validate(); err != nil {
		return nil, err
	}

	return positions, nil
}

// FromFile reads a JSON catalog dump, as produced by DumpToTmpFile.
func FromFile(path string) (*Positions, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var positions Positions
	if err := json.NewDecoder(file).Decode(&positions); err != nil {
		return nil, fmt.Errorf("decoding positions file %q: %w", path, err)
	}

	if err := positions.Validate(); err != nil {
		return nil, err
	}

	return &positions, nil
}

func (p *Positions) Validate() error {
	seen := make(map[string]struct{}, len(p.Items))
	for idx, position := range p.Items {
		if position == nil {
			return fmt.Errorf("position #%d is empty", idx)
		}
		id := strings.TrimSpace(position.ID)
		if id == "" {
			return fmt.Errorf("position #%d (%s) has no id", idx, position.Title)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate position id %q", id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

func (p *Positions) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "positions_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return file.Name(), nil
}

func (p *Positions) Len() int {
	return len(p.Items)
}

func (p *Positions) FindByID(id string) *Position {
	for _, position := range p.Items {
		if position.ID == id {
			return position
		}
	}
	return nil
}

func (p *Positions) Titles() []string {
	titles := make([]string, 0, len(p.Items))
	for _, position := range p.Items {
		titles = append(titles, position.Title)
	}
	return titles
}

// Label is the single-line form shown in selection lists.
func (p *Position) Label() string {
	return fmt.Sprintf("%s %s / %s / %s", p.ID, p.Title, p.Location, p.Compensation)
}

// Report renders the detail view of the position.
func (p *Position) Report() map[string]string {
	return map[string]string{
		"title":        p.Title,
		"location":     p.Location,
		"compensation": p.Compensation.String(),
		"description":  p.Description,
		"requirements": strings.Join(p.Requirements, "; "),
		"task":         p.TaskDescription,
	}
}
