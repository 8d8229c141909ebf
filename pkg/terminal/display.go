package terminal

import (
	"errors"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/manifoldco/promptui"
)

type PromptSelectContent struct {
	Label string
	Items []string
}

// PromptSelector is the interactive side of cluster and key-pair selection.
type PromptSelector struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

func (p PromptSelector) Select(label string, items []string) (int, error) {
	prompt := promptui.Select{
		Label:  label,
		Items:  items,
		Stdin:  p.Stdin,
		Stdout: p.Stdout,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return -1, err //nolint:wrapcheck // caller wraps
	}
	return idx, nil
}

type PromptContent struct {
	ErrorMsg string
	Label    string
	Default  string
}

func PromptGetInput(pc PromptContent) (string, error) {
	validate := func(input string) error {
		if len(input) == 0 {
			return errors.New(pc.ErrorMsg)
		}
		return nil
	}

	templates := &promptui.PromptTemplates{
		Prompt:  "{{ . }} ",
		Valid:   "{{ . | green }} ",
		Invalid: "{{ . | yellow }} ",
		Success: "{{ . | bold }} ",
	}

	prompt := promptui.Prompt{
		Label:     pc.Label,
		Templates: templates,
		Validate:  validate,
		Default:   pc.Default,
		AllowEdit: true,
	}

	return prompt.Run() //nolint:wrapcheck // caller wraps
}

// RenderTable writes a borderless table to the terminal's standard output.
func (t *Terminal) RenderTable(header []string, rows [][]string) {
	ta := table.NewWriter()
	ta.SetOutputMirror(t.verbose)
	ta.Style().Options = getTableOptions()

	ta.AppendHeader(toRow(header))
	for _, r := range rows {
		ta.AppendRow(toRow(r))
	}
	ta.Render()
}

func toRow(cells []string) table.Row {
	row := make(table.Row, 0, len(cells))
	for _, c := range cells {
		row = append(row, c)
	}
	return row
}

func getTableOptions() table.Options {
	options := table.OptionsDefault
	options.DrawBorder = false
	options.SeparateColumns = false
	options.SeparateRows = false
	options.SeparateHeader = false
	return options
}
