package analysis

import (
	"context"
	"testing"

	"taskforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherFn = `package main

import "fmt"

func FetchWeather(city string) (string, error) {
	return fmt.Sprintf("sunny in %s", city), nil
}

func helper() int { return 1 }
`

const convertFn = `package main

func ToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }
`

const generated = "package main\n\nimport (\n\t\"fmt\"\n\t\"strings\"\n)\n\n" +
	"func Run() (string, error) {\n" +
	"\tw, err := FetchWeather(\"Oslo\")\n" +
	"\tif err != nil {\n\t\treturn \"\", err\n\t}\n" +
	"\tw = strings.ToUpper(w)\n" +
	"\treturn fmt.Sprintf(\"%s %.1f\", w, ToCelsius(50)), nil\n}\n"

func functions() []types.Artifact {
	return []types.Artifact{
		{Kind: types.KindFunction, Name: "fetch_weather", Content: weatherFn},
		{Kind: types.KindFunction, Name: "to_celsius", Content: convertFn},
		{Kind: types.KindFunction, Name: "unused", Content: "package main\n\nfunc Unused() {}\n"},
	}
}

func TestParseExtractsShape(t *testing.T) {
	p := NewParser()
	defer p.Close()

	file, err := p.Parse(context.Background(), []byte(generated))
	require.NoError(t, err)

	assert.Equal(t, "main", file.Package)
	assert.Equal(t, []string{"fmt", "strings"}, file.Imports)
	require.Len(t, file.Functions, 1)
	assert.Equal(t, "func Run() (string, error)", file.Functions[0].Signature)
	assert.Contains(t, file.Calls, "FetchWeather")
	assert.Contains(t, file.Calls, "ToUpper")
	assert.Contains(t, file.Calls, "ToCelsius")
}

func TestParseReportsSyntaxErrors(t *testing.T) {
	p := NewParser()
	defer p.Close()

	_, err := p.Parse(context.Background(), []byte("package main\n\nfunc Run( {"))
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestAnalyzeResolvesDependencies(t *testing.T) {
	p := NewParser()
	defer p.Close()
	ctx := context.Background()

	table, err := p.BuildFunctionTable(ctx, functions())
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	report, err := p.Analyze(ctx, generated, table)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch_weather", "to_celsius"}, report.Dependencies)
	assert.Equal(t, "func Run() (string, error)", report.Schema)
}

func TestAnalyzeRequiresEntryPoint(t *testing.T) {
	p := NewParser()
	defer p.Close()

	_, err := p.Analyze(context.Background(), "package main\n\nfunc main() {}\n", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "func Run")
}

func TestSignatureTextIsSortedAndStable(t *testing.T) {
	p := NewParser()
	defer p.Close()

	table, err := p.BuildFunctionTable(context.Background(), functions())
	require.NoError(t, err)

	sig, ok := table.Signature("fetch_weather")
	require.True(t, ok)
	assert.Equal(t, "func FetchWeather(city string) (string, error)", sig)

	text := table.SignatureText([]string{"to_celsius", "fetch_weather"})
	assert.Equal(t,
		"fetch_weather(func FetchWeather(city string) (string, error))\n"+
			"to_celsius(func ToCelsius(f float64) float64)",
		text)
	assert.Equal(t, text, table.SignatureText([]string{"fetch_weather", "to_celsius"}))
}

func TestResolveIgnoresUnknownCalls(t *testing.T) {
	p := NewParser()
	defer p.Close()

	table, err := p.BuildFunctionTable(context.Background(), functions())
	require.NoError(t, err)
	assert.Empty(t, table.Resolve([]string{"Println", "Sprintf"}))
	assert.Equal(t, []string{"fetch_weather"}, table.Resolve([]string{"helper", "FetchWeather"}))
}

func TestMergeDeduplicatesImports(t *testing.T) {
	p := NewParser()
	defer p.Close()

	merged, err := p.Merge(context.Background(), weatherFn, convertFn, generated)
	require.NoError(t, err)

	file, err := p.Parse(context.Background(), []byte(merged))
	require.NoError(t, err)
	assert.Equal(t, []string{"fmt", "strings"}, file.Imports)

	var names []string
	for _, fn := range file.Functions {
		names = append(names, fn.Name)
	}
	assert.Equal(t, []string{"FetchWeather", "helper", "ToCelsius", "Run"}, names)
}

func TestMergeRejectsBrokenSource(t *testing.T) {
	p := NewParser()
	defer p.Close()

	_, err := p.Merge(context.Background(), weatherFn, "package main\nfunc {")
	assert.ErrorIs(t, err, ErrSyntax)
}
