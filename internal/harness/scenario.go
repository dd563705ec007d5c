package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario for the check-in subsystem.
// A scenario seeds backend state, drives a sequence of steps through the
// coordinator and reconciler, and asserts on the resulting trace and final
// state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// User is the authenticated user ID. Empty means signed out, so every
	// check-in step must expect the not_authenticated error.
	User string `yaml:"user,omitempty"`

	// StartDay is the calendar day the fixed clock starts on (YYYY-MM-DD).
	StartDay string `yaml:"start_day"`

	// Challenges seeds the remote store before the first step.
	Challenges []ChallengeSeed `yaml:"challenges"`

	// Steps is the ordered sequence of actions to execute.
	Steps []Step `yaml:"steps"`

	// Final holds assertions on remote state after the last step.
	Final []FinalState `yaml:"final,omitempty"`
}

// ChallengeSeed is the initial remote state of one challenge.
type ChallengeSeed struct {
	ID            string `yaml:"id"`
	Title         string `yaml:"title"`
	DaysCompleted int    `yaml:"days_completed,omitempty"`
	Streak        int    `yaml:"streak,omitempty"`

	// LastCheckIn is the day of the most recent completion (YYYY-MM-DD).
	// Empty means the challenge has never been checked in.
	LastCheckIn string `yaml:"last_check_in,omitempty"`
}

// Step is one scenario action. Exactly one action field must be set.
type Step struct {
	// CheckIn performs a check-in against the named challenge.
	CheckIn string `yaml:"check_in,omitempty"`
	// Note is the optional note for a check_in step.
	Note string `yaml:"note,omitempty"`
	// Expect is the expected check-in result: "confirmed",
	// "already_checked_in", "queued_offline", or "error:<code>".
	Expect string `yaml:"expect,omitempty"`

	// Connectivity sets the network state.
	Connectivity *bool `yaml:"connectivity,omitempty"`

	// Backend sets remote store availability.
	Backend *bool `yaml:"backend,omitempty"`

	// AdvanceDays moves the fixed clock forward by whole days.
	AdvanceDays int `yaml:"advance_days,omitempty"`

	// Drain runs one reconciliation pass over the pending queue.
	Drain bool `yaml:"drain,omitempty"`
}

// FinalState asserts on one challenge's remote state after the last step.
// Pending asserts on the device queue length and may appear on any entry.
type FinalState struct {
	Challenge     string `yaml:"challenge"`
	DaysCompleted *int   `yaml:"days_completed,omitempty"`
	Streak        *int   `yaml:"streak,omitempty"`
	Completed     *bool  `yaml:"completed,omitempty"`
	Completions   *int   `yaml:"completions,omitempty"`
	Pending       *int   `yaml:"pending,omitempty"`
}

// Valid expect values for check_in steps, mirroring engine.Status strings.
const (
	ExpectConfirmed        = "confirmed"
	ExpectAlreadyCheckedIn = "already_checked_in"
	ExpectQueuedOffline    = "queued_offline"
)

const dayLayout = "2006-01-02"

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.StartDay == "" {
		return fmt.Errorf("start_day is required")
	}
	if _, err := time.Parse(dayLayout, s.StartDay); err != nil {
		return fmt.Errorf("start_day: %w", err)
	}
	if len(s.Challenges) == 0 {
		return fmt.Errorf("challenges list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Challenges))
	for i, c := range s.Challenges {
		if c.ID == "" {
			return fmt.Errorf("challenges[%d]: id is required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("challenges[%d]: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = true
		if c.Title == "" {
			return fmt.Errorf("challenges[%d]: title is required", i)
		}
		if c.LastCheckIn != "" {
			if _, err := time.Parse(dayLayout, c.LastCheckIn); err != nil {
				return fmt.Errorf("challenges[%d].last_check_in: %w", i, err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, seen); err != nil {
			return err
		}
	}

	for i, f := range s.Final {
		if f.Challenge == "" && f.Pending == nil {
			return fmt.Errorf("final[%d]: challenge or pending is required", i)
		}
		if f.Challenge != "" && !seen[f.Challenge] {
			return fmt.Errorf("final[%d]: unknown challenge %q", i, f.Challenge)
		}
	}
	return nil
}

func validateStep(index int, step *Step, challenges map[string]bool) error {
	actions := 0
	if step.CheckIn != "" {
		actions++
		if !challenges[step.CheckIn] {
			return fmt.Errorf("steps[%d]: unknown challenge %q", index, step.CheckIn)
		}
		if step.Expect == "" {
			return fmt.Errorf("steps[%d]: expect is required for check_in", index)
		}
		if !validExpect(step.Expect) {
			return fmt.Errorf("steps[%d]: invalid expect %q", index, step.Expect)
		}
	}
	if step.Connectivity != nil {
		actions++
	}
	if step.Backend != nil {
		actions++
	}
	if step.AdvanceDays != 0 {
		actions++
		if step.AdvanceDays < 0 {
			return fmt.Errorf("steps[%d]: advance_days must be positive", index)
		}
	}
	if step.Drain {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, actions)
	}
	return nil
}

func validExpect(expect string) bool {
	switch expect {
	case ExpectConfirmed, ExpectAlreadyCheckedIn, ExpectQueuedOffline:
		return true
	}
	return len(expect) > len("error:") && expect[:len("error:")] == "error:"
}
