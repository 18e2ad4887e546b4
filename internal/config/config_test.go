package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestBuild_Builtins(t *testing.T) {
	set, res := Build(nil, envMap(nil))
	require.True(t, res.OK, res.Errors)

	assert.Equal(t, DefaultConnectionString, set.Defaults.ConnectionString)
	assert.Equal(t, "localhost:5672", set.Defaults.Host)
	assert.Equal(t, []string{"test-queue", "dev-queue", "debug-queue"}, set.Defaults.CommonQueues)
	assert.Equal(t, []string{"test-topic", "dev-topic"}, set.Defaults.CommonTopics)

	require.Len(t, set.Scenarios, 3)
	assert.Equal(t, ScenarioLocal, set.Scenarios[0].Name)
	assert.Equal(t, "localhost:5672", set.Scenarios[0].Host)
	assert.Equal(t, DefaultConnectionString, set.Scenarios[0].ConnectionString)
	assert.Equal(t, ScenarioDockerToHost, set.Scenarios[1].Name)
	assert.Equal(t, "host.docker.internal:5672", set.Scenarios[1].Host)
	assert.Contains(t, set.Scenarios[1].ConnectionString, "Endpoint=sb://host.docker.internal:5672;")
	assert.Equal(t, ScenarioBothInDocker, set.Scenarios[2].Name)
	assert.Equal(t, "servicebus-emulator:5672", set.Scenarios[2].Host)
}

func TestBuild_EnvOverrides(t *testing.T) {
	set, res := Build(nil, envMap(map[string]string{
		EnvConnectionString:       "Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=k;SharedAccessKey=v",
		EnvQueues:                 " orders , ,billing",
		EnvTopics:                 "events",
		EnvEmulatorHost:           "sbemu:5672",
		EnvCustomConnectionString: "Endpoint=sb://10.0.0.5:5672;SharedAccessKeyName=all;SharedAccessKey=x;UseDevelopmentEmulator=true",
		EnvCustomName:             "Lab",
	}))
	require.True(t, res.OK, res.Errors)

	assert.Equal(t, "ns.servicebus.windows.net", set.Defaults.Host)
	assert.Equal(t, []string{"orders", "billing"}, set.Defaults.CommonQueues)
	assert.Equal(t, []string{"events"}, set.Defaults.CommonTopics)

	require.Len(t, set.Scenarios, 4)
	assert.Equal(t, "sbemu:5672", set.Scenarios[2].Host)
	assert.Equal(t, "Lab", set.Scenarios[3].Name)
	assert.Equal(t, "10.0.0.5:5672", set.Scenarios[3].Host)
	assert.Equal(t, []string{"orders", "billing"}, set.Scenarios[3].CommonQueues)
}

func TestBuild_InvalidCustomConnectionString(t *testing.T) {
	_, res := Build(nil, envMap(map[string]string{
		EnvCustomConnectionString: "nope",
	}))
	require.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], EnvCustomConnectionString)
}

func TestParseAndBuild_File(t *testing.T) {
	data := []byte("\xEF\xBB\xBFdefaults:\r\n" +
		"  queues: [a, b]\r\n" +
		"scenarios:\r\n" +
		"  - name: Staging\r\n" +
		"    description: shared staging namespace\r\n" +
		"    connection_string: \"{$STAGING_SB}\"\r\n" +
		"    topics: [audit]\r\n" +
		"  - name: Local Development\r\n" +
		"    connection_string: \"Endpoint=sb://127.0.0.1:5672;SharedAccessKeyName=all;SharedAccessKey={$KEY:dev}\"\r\n")

	f, err := Parse(data)
	require.NoError(t, err)

	set, res := Build(f, envMap(map[string]string{
		"STAGING_SB": "Endpoint=sb://staging.servicebus.windows.net/;SharedAccessKeyName=k;SharedAccessKey=s",
	}))
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, []string{"a", "b"}, set.Defaults.CommonQueues)

	require.Len(t, set.Scenarios, 4)
	assert.Equal(t, ScenarioLocal, set.Scenarios[0].Name)
	assert.Equal(t, "127.0.0.1:5672", set.Scenarios[0].Host)
	assert.Contains(t, set.Scenarios[0].ConnectionString, "SharedAccessKey=dev")

	staging := set.Scenarios[3]
	assert.Equal(t, "Staging", staging.Name)
	assert.Equal(t, "staging.servicebus.windows.net", staging.Host)
	assert.Equal(t, []string{"a", "b"}, staging.CommonQueues)
	assert.Equal(t, []string{"audit"}, staging.CommonTopics)
}

func TestBuild_FileErrors(t *testing.T) {
	f := &File{Scenarios: []FileScenario{
		{Name: "", ConnectionString: DefaultConnectionString},
		{Name: "Broken", ConnectionString: "Endpoint=sb://nosemicolon"},
		{Name: "Missing", ConnectionString: "{$UNSET_VAR}"},
	}}
	set, res := Build(f, envMap(nil))
	require.False(t, res.OK)
	assert.Len(t, res.Errors, 3)
	assert.Len(t, res.Warnings, 1)
	assert.Len(t, set.Scenarios, 3)
}

func TestBuild_DuplicateFileScenario(t *testing.T) {
	f := &File{Scenarios: []FileScenario{
		{Name: "staging", ConnectionString: "Endpoint=sb://a.example:5671;SharedAccessKeyName=k;SharedAccessKey=s"},
		{Name: "staging", ConnectionString: "Endpoint=sb://b.example:5671;SharedAccessKeyName=k;SharedAccessKey=s"},
		{Name: ScenarioLocal, ConnectionString: "Endpoint=sb://127.0.0.1:5672;SharedAccessKeyName=k;SharedAccessKey=s"},
	}}
	set, res := Build(f, envMap(nil))
	require.False(t, res.OK)
	require.Equal(t, []string{"scenarios[1] (staging): duplicate name"}, res.Errors)

	var hosts []string
	for _, sc := range set.Scenarios {
		if sc.Name == "staging" {
			hosts = append(hosts, sc.Host)
		}
	}
	assert.Equal(t, []string{"a.example:5671"}, hosts)
	assert.Equal(t, "127.0.0.1:5672", set.Scenarios[0].Host)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("scenarios:\n  - name: x\n    conn: y\n"))
	require.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, f.Defaults)
	assert.Empty(t, f.Scenarios)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenarios:\n  - name: Edge\n    connection_string: \"Endpoint=sb://edge:5672;SharedAccessKeyName=all;SharedAccessKey=k\"\n"), 0o644))

	set, res, err := Load(path, envMap(nil))
	require.NoError(t, err)
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, "Edge", set.Scenarios[len(set.Scenarios)-1].Name)

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	require.Error(t, err)
}

func TestProvider_ReturnsCopies(t *testing.T) {
	set, _ := Build(nil, envMap(nil))
	p := NewProvider(set)

	d := p.Defaults()
	d.CommonQueues[0] = "mutated"
	assert.Equal(t, "test-queue", p.Defaults().CommonQueues[0])

	sc := p.Scenarios()
	sc[0].Name = "mutated"
	assert.Equal(t, ScenarioLocal, p.Scenarios()[0].Name)

	p.Replace(Set{Defaults: Defaults{ConnectionString: "x"}})
	assert.Equal(t, "x", p.Defaults().ConnectionString)
	assert.Empty(t, p.Scenarios())
}

func TestDefaults_Entities(t *testing.T) {
	set, _ := Build(nil, envMap(nil))
	assert.Equal(t, []string{"test-queue", "dev-queue", "debug-queue", "test-topic", "dev-topic"}, set.Defaults.Entities())
}

func TestFormatValidationText(t *testing.T) {
	assert.Equal(t, "scenarios ok", FormatValidationText(ValidationResult{OK: true}))
	assert.Equal(t, "scenarios ok (warnings: 2)", FormatValidationText(ValidationResult{OK: true, Warnings: []string{"a", "b"}}))
	assert.Equal(t, "scenarios invalid: boom", FormatValidationText(ValidationResult{Errors: []string{"boom"}}))
}
