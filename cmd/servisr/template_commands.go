package main

import (
	"fmt"
	"os"

	"github.com/loykin/servisr/pkg/template"
)

// TemplateCreate writes a starter config file for a deployment shape.
func (c command) TemplateCreate(f TemplateCreateFlags) error {
	name := f.Name
	if name == "" {
		name = "serval"
	}
	out := f.Output
	if out == "" {
		out = "config.toml"
	}
	if !f.Force {
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", out)
		}
	}

	content, err := template.NewGenerator().GenerateTOML(template.TemplateType(f.Type), name)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := os.WriteFile(out, content, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	fmt.Printf("Config '%s' created: %s\n", name, out)
	fmt.Printf("Edit the config and run the daemon with: servisr serve %s\n", out)
	return nil
}
