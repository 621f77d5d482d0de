package kldd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// RunConfig is fixed for a whole run and shared by every file's rendering.
type RunConfig struct {
	// ProgName prefixes diagnostics.
	ProgName string
	// ShowHeaders prints "<file>:" before each file's lines.
	ShowHeaders bool
	// ShowBTF prints the BTF line for modules that carry BTF.
	ShowBTF bool
}

// NewRunConfig derives the run configuration from the number of input files.
func NewRunConfig(progName string, files int) RunConfig {
	return RunConfig{
		ProgName:    progName,
		ShowHeaders: files > 1,
	}
}

// String returns the dependency and parent lines of the report.
func (r *Report) String() string {
	var b strings.Builder
	writeLines(&b, r, false)
	return b.String()
}

// WriteText renders one report: dependency lines to out, diagnostics to errOut.
func WriteText(out, errOut io.Writer, r *Report, rc RunConfig) error {
	bw := bufio.NewWriter(out)
	if rc.ShowHeaders {
		fmt.Fprintf(bw, "%s:\n", r.Path)
	}
	writeLines(bw, r, rc.ShowBTF)
	if err := bw.Flush(); err != nil {
		return err
	}

	for _, w := range r.Warnings {
		if err := writeDiagnostic(errOut, rc.ProgName, w); err != nil {
			return err
		}
	}
	if r.Err != nil {
		return writeDiagnostic(errOut, rc.ProgName, r.Err)
	}
	return nil
}

func writeLines(w io.Writer, r *Report, showBTF bool) {
	for _, d := range r.Dependencies {
		writeResolved(w, d)
	}
	if r.Err != nil {
		return
	}
	for _, p := range r.Parents {
		writeResolved(w, p)
	}
	if showBTF && r.BTF != nil && r.BTF.Supported {
		fmt.Fprintf(w, "\tBTF =>\tpresent\n")
	}
}

func writeResolved(w io.Writer, p ResolvedPath) {
	fmt.Fprintf(w, "\t%s =>\t%s\n", p.Name, p.Path)
}

func writeDiagnostic(w io.Writer, prog string, e *ModuleError) error {
	if prog == "" {
		_, err := fmt.Fprintf(w, "%s\n", e)
		return err
	}
	_, err := fmt.Fprintf(w, "%s: %s\n", prog, e)
	return err
}

type jsonProbe struct {
	Present bool   `json:"present"`
	Error   string `json:"error,omitempty"`
}

type jsonReport struct {
	File         string         `json:"file"`
	Class        string         `json:"class,omitempty"`
	Type         string         `json:"type,omitempty"`
	Dependencies []ResolvedPath `json:"dependencies"`
	Parents      []ResolvedPath `json:"parents"`
	BTF          *jsonProbe     `json:"btf,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
}

func toJSONReport(r *Report) jsonReport {
	jr := jsonReport{
		File:         r.Path,
		Dependencies: r.Dependencies,
		Parents:      r.Parents,
	}
	if jr.Dependencies == nil {
		jr.Dependencies = []ResolvedPath{}
	}
	if jr.Parents == nil {
		jr.Parents = []ResolvedPath{}
	}
	if r.Class != ClassNone {
		jr.Class = r.Class.String()
		jr.Type = r.Type.String()
	}
	if r.BTF != nil {
		jr.BTF = &jsonProbe{Present: r.BTF.Supported}
		if r.BTF.Error != nil {
			jr.BTF.Error = r.BTF.Error.Error()
		}
	}
	for _, w := range r.Warnings {
		jr.Warnings = append(jr.Warnings, w.Reason)
	}
	if r.Err != nil {
		jr.Error = r.Err.Reason
		jr.ErrorKind = r.Err.Kind.String()
	}
	return jr
}

// WriteJSON renders all reports as one indented JSON array.
func WriteJSON(w io.Writer, reports []*Report) error {
	out := make([]jsonReport, 0, len(reports))
	for _, r := range reports {
		out = append(out, toJSONReport(r))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
