package compose

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/hatchery-sh/hatchery/internal/model"
)

// BootScriptData is the template namespace a BootConfig body renders
// against.
type BootScriptData struct {
	KernelURL       string
	InitrdURL       string
	RootFSURL       string
	KernelParams    string
	MachineHostname string
	BootType        string
}

// RenderBootScript substitutes the image's artifact URLs and the boot
// config's kernel parameters into the boot config template. A template
// referencing a field that does not exist fails rather than rendering
// "<no value>" into a script a machine will boot from.
func RenderBootScript(img *model.Image, bc *model.BootConfig, machine *model.Machine) (string, error) {
	tmpl, err := template.New(bc.Name).Option("missingkey=error").Parse(bc.Template)
	if err != nil {
		return "", fmt.Errorf("parsing boot config %s: %w", bc.Name, err)
	}

	data := BootScriptData{
		KernelURL:       img.Kernel,
		InitrdURL:       img.Initrd,
		RootFSURL:       img.RootFS,
		KernelParams:    bc.KernelParams,
		MachineHostname: machine.Hostname,
		BootType:        string(bc.BootType),
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("rendering boot config %s: %w", bc.Name, err)
	}
	return out.String(), nil
}
