package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/nuetzliches/sbinspect/internal/connstr"
)

// Environment variables read by Build.
const (
	EnvConnectionString       = "SBINSPECT_CONNECTION_STRING"
	EnvQueues                 = "SBINSPECT_QUEUES"
	EnvTopics                 = "SBINSPECT_TOPICS"
	EnvEmulatorHost           = "SBINSPECT_EMULATOR_HOST"
	EnvCustomConnectionString = "SBINSPECT_CUSTOM_CONNECTION_STRING"
	EnvCustomName             = "SBINSPECT_CUSTOM_NAME"
	EnvCustomDescription      = "SBINSPECT_CUSTOM_DESCRIPTION"
)

const (
	ScenarioLocal        = "Local Development"
	ScenarioDockerToHost = "Docker to Host"
	ScenarioBothInDocker = "Both in Docker"
	ScenarioCustom       = "Custom Configuration"
)

// Build resolves defaults and scenarios from the built-ins, the environment
// and an optional parsed scenarios file. lookup defaults to os.LookupEnv.
func Build(file *File, lookup LookupFunc) (Set, ValidationResult) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	res := ValidationResult{OK: true}

	defaults := Defaults{
		ConnectionString: DefaultConnectionString,
		Host:             DefaultEmulatorHost,
		CommonQueues:     cloneStrings(DefaultQueues),
		CommonTopics:     cloneStrings(DefaultTopics),
	}
	if file != nil && file.Defaults != nil {
		fd := file.Defaults
		if strings.TrimSpace(fd.ConnectionString) != "" {
			defaults.ConnectionString = resolveValue(fd.ConnectionString, "defaults.connection_string", lookup, &res)
		}
		if fd.Queues != nil {
			defaults.CommonQueues = cloneStrings(fd.Queues)
		}
		if fd.Topics != nil {
			defaults.CommonTopics = cloneStrings(fd.Topics)
		}
	}
	if v, ok := lookupNonEmpty(lookup, EnvConnectionString); ok {
		defaults.ConnectionString = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvQueues); ok {
		defaults.CommonQueues = splitList(v)
	}
	if v, ok := lookupNonEmpty(lookup, EnvTopics); ok {
		defaults.CommonTopics = splitList(v)
	}
	host, err := connstr.Host(defaults.ConnectionString)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("defaults.connection_string: %v", err))
	} else {
		defaults.Host = host
	}

	scenarios := builtinScenarios(defaults, lookup, &res)
	if file != nil {
		// A file scenario may replace a built-in, but names within the file
		// must be unique.
		seen := make(map[string]bool, len(file.Scenarios))
		for i, fs := range file.Scenarios {
			field := fmt.Sprintf("scenarios[%d]", i)
			sc, ok := buildFileScenario(fs, defaults, field, lookup, &res)
			if !ok {
				continue
			}
			if seen[sc.Name] {
				res.Errors = append(res.Errors, fmt.Sprintf("%s (%s): duplicate name", field, sc.Name))
				continue
			}
			seen[sc.Name] = true
			scenarios = upsertScenario(scenarios, sc)
		}
	}
	if cs, ok := lookupNonEmpty(lookup, EnvCustomConnectionString); ok {
		name := ScenarioCustom
		if v, ok := lookupNonEmpty(lookup, EnvCustomName); ok {
			name = v
		}
		desc := "Custom connection configured via environment"
		if v, ok := lookupNonEmpty(lookup, EnvCustomDescription); ok {
			desc = v
		}
		if h, err := connstr.Host(cs); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", EnvCustomConnectionString, err))
		} else {
			scenarios = upsertScenario(scenarios, Scenario{
				Name:             name,
				Description:      desc,
				ConnectionString: cs,
				Host:             h,
				CommonQueues:     cloneStrings(defaults.CommonQueues),
				CommonTopics:     cloneStrings(defaults.CommonTopics),
			})
		}
	}

	res.OK = len(res.Errors) == 0
	return Set{Defaults: defaults, Scenarios: scenarios}, res
}

func builtinScenarios(defaults Defaults, lookup LookupFunc, res *ValidationResult) []Scenario {
	composeHost := ComposeEmulatorHost
	if v, ok := lookupNonEmpty(lookup, EnvEmulatorHost); ok {
		composeHost = v
	}

	layouts := []struct {
		name string
		desc string
		host string
	}{
		{ScenarioLocal, "Inspector and emulator both run directly on this machine", DefaultEmulatorHost},
		{ScenarioDockerToHost, "Inspector runs in Docker, emulator runs on the host", DockerHostEmulatorHost},
		{ScenarioBothInDocker, "Inspector and emulator share a Docker network", composeHost},
	}

	out := make([]Scenario, 0, len(layouts)+1)
	for _, l := range layouts {
		cs, err := connstr.WithHost(DefaultConnectionString, l.host)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("scenario %q: %v", l.name, err))
			continue
		}
		out = append(out, Scenario{
			Name:             l.name,
			Description:      l.desc,
			ConnectionString: cs,
			Host:             l.host,
			CommonQueues:     cloneStrings(defaults.CommonQueues),
			CommonTopics:     cloneStrings(defaults.CommonTopics),
		})
	}
	return out
}

func buildFileScenario(fs FileScenario, defaults Defaults, field string, lookup LookupFunc, res *ValidationResult) (Scenario, bool) {
	name := strings.TrimSpace(fs.Name)
	if name == "" {
		res.Errors = append(res.Errors, field+": name is required")
		return Scenario{}, false
	}
	cs := strings.TrimSpace(resolveValue(fs.ConnectionString, field+".connection_string", lookup, res))
	if cs == "" {
		res.Errors = append(res.Errors, fmt.Sprintf("%s (%s): connection_string is required", field, name))
		return Scenario{}, false
	}
	host, err := connstr.Host(cs)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("%s (%s): %v", field, name, err))
		return Scenario{}, false
	}
	sc := Scenario{
		Name:             name,
		Description:      strings.TrimSpace(fs.Description),
		ConnectionString: cs,
		Host:             host,
		CommonQueues:     cloneStrings(defaults.CommonQueues),
		CommonTopics:     cloneStrings(defaults.CommonTopics),
	}
	if fs.Queues != nil {
		sc.CommonQueues = cloneStrings(fs.Queues)
	}
	if fs.Topics != nil {
		sc.CommonTopics = cloneStrings(fs.Topics)
	}
	return sc, true
}

// upsertScenario replaces a scenario with the same name in place or appends it.
func upsertScenario(list []Scenario, sc Scenario) []Scenario {
	for i := range list {
		if list[i].Name == sc.Name {
			list[i] = sc
			return list
		}
	}
	return append(list, sc)
}

func lookupNonEmpty(lookup LookupFunc, name string) (string, bool) {
	v, ok := lookup(name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
