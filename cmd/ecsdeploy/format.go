package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v2"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
)

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
	outputFormatYAML = "yaml"
)

func newTabwriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
}

func makeExample(examples ...string) string {
	var lines []string
	for _, e := range examples {
		lines = append(lines, "  "+e)
	}
	return strings.Join(lines, "\n")
}

func validOutputFormat(f string) bool {
	switch f {
	case outputFormatText, outputFormatJSON, outputFormatYAML:
		return true
	}
	return false
}

// writeStructured writes v as JSON or YAML. The YAML keeps the field
// names and order of the JSON encoding.
func writeStructured(w io.Writer, format string, v interface{}) error {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == outputFormatJSON {
		_, err = w.Write(append(bytes, '\n'))
		return err
	}

	// MapSlice rather than a map, so that nested objects keep their
	// order too.
	var doc interface{} = &yaml.MapSlice{}
	if len(bytes) > 0 && bytes[0] == '[' {
		doc = &[]yaml.MapSlice{}
	}
	if err := yaml.Unmarshal(bytes, doc); err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func writeTasks(w io.Writer, tasks []deployment.TaskItem) error {
	out := newTabwriter(w)
	fmt.Fprintln(out, "TASK\tTYPE\tCLUSTER\tREGION\tSERVICE\tSCHEDULE\tTASK DEFINITION")
	for _, t := range tasks {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.TaskID, t.TaskType, t.ECSCluster, t.ECSRegion, orDash(t.ServiceName), orDash(t.Schedule), t.TaskDefinitionArn)
	}
	return out.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
