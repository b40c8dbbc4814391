// Package printer abstracts the local print spooler. The job engine
// only needs to enumerate printers and hand over document bytes; the
// driver-level details stay behind this interface.
package printer

import (
	"context"
	"fmt"
	"strings"
)

// Info describes one local printer as reported by the spooler.
type Info struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Location      string `json:"location,omitempty"`
	Model         string `json:"model,omitempty"`
	State         string `json:"state"`
	AcceptingJobs bool   `json:"accepting_jobs"`
	IsDefault     bool   `json:"is_default,omitempty"`
}

// Request carries everything a backend needs for one print call.
type Request struct {
	PrinterName  string
	DocumentName string
	Payload      []byte
	Copies       int
	Options      map[string]interface{}
}

// Backend submits documents to a spooler. Implementations are selected
// once at startup; the engine treats Print as a black box that either
// succeeds or returns an error.
type Backend interface {
	ListPrinters(ctx context.Context) ([]Info, error)
	Print(ctx context.Context, req Request) error
}

// New selects a backend by name. Empty defaults to the lp command
// backend, which covers CUPS installations.
func New(name string) (Backend, error) {
	switch name {
	case "", "lp", "cups":
		return NewLPBackend(), nil
	case "null":
		return NewNullBackend(), nil
	default:
		return nil, fmt.Errorf("unknown printer backend %q", name)
	}
}

// optionArgs flattens the opaque options map into lp -o arguments.
// Booleans become the CUPS true/false convention; everything else is
// formatted verbatim.
func optionArgs(options map[string]interface{}) []string {
	var args []string
	for key, value := range options {
		var v string
		switch t := value.(type) {
		case bool:
			if t {
				v = "true"
			} else {
				v = "false"
			}
		case string:
			v = t
		default:
			v = fmt.Sprintf("%v", t)
		}
		args = append(args, "-o", fmt.Sprintf("%s=%s", key, v))
	}
	return args
}

// ContentSuffix infers a file suffix from the document name, defaulting
// to .pdf, which matches what the ERP sends when it omits a type.
func ContentSuffix(documentName string) string {
	name := strings.ToLower(documentName)
	for _, suffix := range []string{".pdf", ".txt", ".ps", ".pcl"} {
		if strings.HasSuffix(name, suffix) {
			return suffix
		}
	}
	return ".pdf"
}
