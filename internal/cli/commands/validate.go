package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmap/internal/cli/output"
	"github.com/leapstack-labs/leapmap/internal/mapconfig"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

var errInvalidMap = errors.New("map config is invalid")

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a map config",
		Long: `Normalize and validate a map config document (JSON or YAML).

Every problem is reported with its path, e.g. layers[0].style.fillColor.palette,
and a suggestion when a close match exists. The command fails when the
document has errors; warnings alone do not fail it.`,
		Example: `  # Validate the configured map file
  leapmap validate

  # Validate a specific file as JSON
  leapmap validate maps/parcels.yaml -o json

  # Validate from stdin
  cat map.json | leapmap validate -`,
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	c := NewCommandContext(cmd)
	data, format, path, err := c.mapSource(cmd, args)
	if err != nil {
		return err
	}
	raw, err := mapconfig.Parse(data, format)
	if err != nil {
		return err
	}
	result := mapconfig.Validate(mapconfig.NormalizeInputs(raw))
	renderValidation(c.Renderer, path, result)
	if !result.Valid {
		return errInvalidMap
	}
	return nil
}

type validationOutput struct {
	File string `json:"file"`
	core.ValidationResult
}

// renderValidation prints a result in the renderer's mode.
func renderValidation(r *output.Renderer, path string, result core.ValidationResult) {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		_ = r.JSON(validationOutput{File: path, ValidationResult: result})
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Validation: "+path))
		r.Println("")
		status := "valid"
		if !result.Valid {
			status = "invalid"
		}
		r.Println(output.FormatKeyValue("Status", status))
		r.Println(output.FormatKeyValue("Errors", fmt.Sprintf("%d", len(result.Errors))))
		r.Println(output.FormatKeyValue("Warnings", fmt.Sprintf("%d", len(result.Warnings))))
		if len(result.Errors) > 0 {
			r.Println("")
			r.Println(output.FormatHeader(2, "Errors"))
			for _, e := range result.Errors {
				r.Printf("- `%s`: %s", e.Path, e.Message)
				if e.Suggestion != "" {
					r.Printf(" (did you mean %q?)", e.Suggestion)
				}
				r.Println("")
			}
		}
		if len(result.Warnings) > 0 {
			r.Println("")
			r.Println(output.FormatHeader(2, "Warnings"))
			for _, w := range result.Warnings {
				r.Println("- " + w)
			}
		}
	default:
		styles := r.Styles()
		for _, e := range result.Errors {
			line := styles.Error.Render("error") + " " + styles.Bold.Render(e.Path) + " " + e.Message
			if e.Suggestion != "" {
				line += " " + styles.Muted.Render(fmt.Sprintf("(did you mean %q?)", e.Suggestion))
			}
			r.Println(line)
		}
		for _, w := range result.Warnings {
			r.Println(styles.Warning.Render("warning") + " " + w)
		}
		if result.Valid {
			r.Success(path + " is valid")
		}
	}
}
