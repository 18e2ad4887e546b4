package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Emulator defaults shipped with the Service Bus emulator images.
const (
	DefaultConnectionString = "Endpoint=sb://localhost:5672;SharedAccessKeyName=all;SharedAccessKey=CLwo3FQ3S39Z4pFOQDefaiUd1dSsli4XOAj3Y9Uh1E=;UseDevelopmentEmulator=true"
	DefaultEmulatorHost     = "localhost:5672"
	DockerHostEmulatorHost  = "host.docker.internal:5672"
	ComposeEmulatorHost     = "servicebus-emulator:5672"
)

var (
	DefaultQueues = []string{"test-queue", "dev-queue", "debug-queue"}
	DefaultTopics = []string{"test-topic", "dev-topic"}
)

// Defaults is what the UI pre-fills when no scenario is picked.
type Defaults struct {
	ConnectionString string   `json:"connectionString"`
	Host             string   `json:"host"`
	CommonQueues     []string `json:"commonQueues"`
	CommonTopics     []string `json:"commonTopics"`
}

// Scenario is a named deployment layout with a ready-to-use connection string.
type Scenario struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	ConnectionString string   `json:"connectionString"`
	Host             string   `json:"host"`
	CommonQueues     []string `json:"commonQueues"`
	CommonTopics     []string `json:"commonTopics"`
}

// Set is the resolved configuration served to clients.
type Set struct {
	Defaults  Defaults
	Scenarios []Scenario
}

// Entities returns the configured queues followed by the topics.
func (d Defaults) Entities() []string {
	out := make([]string, 0, len(d.CommonQueues)+len(d.CommonTopics))
	out = append(out, d.CommonQueues...)
	out = append(out, d.CommonTopics...)
	return out
}

func (s Set) clone() Set {
	out := Set{
		Defaults:  s.Defaults,
		Scenarios: make([]Scenario, 0, len(s.Scenarios)),
	}
	out.Defaults.CommonQueues = cloneStrings(s.Defaults.CommonQueues)
	out.Defaults.CommonTopics = cloneStrings(s.Defaults.CommonTopics)
	for _, sc := range s.Scenarios {
		sc.CommonQueues = cloneStrings(sc.CommonQueues)
		sc.CommonTopics = cloneStrings(sc.CommonTopics)
		out.Scenarios = append(out.Scenarios, sc)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func splitList(in string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(in, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

type ValidationResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func FormatValidationJSON(res ValidationResult) (string, error) {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func FormatValidationText(res ValidationResult) string {
	if res.OK {
		if len(res.Warnings) == 0 {
			return "scenarios ok"
		}
		return fmt.Sprintf("scenarios ok (warnings: %d)", len(res.Warnings))
	}
	if len(res.Errors) == 0 {
		return "scenarios invalid"
	}
	return fmt.Sprintf("scenarios invalid: %s", res.Errors[0])
}
