package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/adalundhe/envolve/core/envfile"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls [service|path]",
	Short: "List managed services, or the variables of one",
	Long: `Without arguments, list every service under the envolve home. With a
service name or env file path, list its variables.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var lsFormat string

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().StringVarP(&lsFormat, "format", "f", "table", "output format (table, json, yaml, plain)")
}

type serviceRow struct {
	Service   string `json:"service" yaml:"service"`
	Variables int    `json:"variables" yaml:"variables"`
	Path      string `json:"path" yaml:"path"`
}

type variableRow struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

func runLs(cmd *cobra.Command, args []string) error {
	format, err := parseOutputFormat(lsFormat)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return listServices(cmd, format)
	}
	return listVariables(cmd, args[0], format)
}

func listServices(cmd *cobra.Command, format outputFormat) error {
	out := cmd.OutOrStdout()

	services, err := app.engine.Services()
	if err != nil {
		return err
	}
	if len(services) == 0 && format == formatTable {
		muted(out, "No services registered yet. Run `envolve sync` in a project directory with a %s file.", app.engine.EnvFileName())
		return nil
	}

	rows := make([]serviceRow, 0, len(services))
	for _, service := range services {
		path := filepath.Join(app.engine.Home(), service, app.engine.EnvFileName())
		names, err := app.engine.Names(path)
		if err != nil {
			return err
		}
		rows = append(rows, serviceRow{Service: service, Variables: len(names), Path: path})
	}

	switch format {
	case formatJSON:
		return writeJSON(out, rows)
	case formatYAML:
		return writeYAML(out, rows)
	case formatPlain:
		for _, r := range rows {
			fmt.Fprintln(out, r.Service)
		}
		return nil
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{r.Service, strconv.Itoa(r.Variables), r.Path})
	}
	return renderTable(out, []string{"SERVICE", "VARIABLES", "PATH"}, table)
}

func listVariables(cmd *cobra.Command, target string, format outputFormat) error {
	out := cmd.OutOrStdout()

	path, err := app.engine.EnvPath(target)
	if err != nil {
		return err
	}
	pairs, err := app.engine.Variables(path)
	if err != nil {
		return err
	}

	rows := make([]variableRow, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, variableRow{Name: p.Name, Value: p.Value})
	}

	switch format {
	case formatJSON:
		return writeJSON(out, rows)
	case formatYAML:
		return writeYAML(out, rows)
	case formatPlain:
		for _, p := range pairs {
			fmt.Fprintln(out, envfile.SerializeLine(p.Name, p.Value))
		}
		return nil
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{r.Name, r.Value})
	}
	return renderTable(out, []string{"ENV", "VALUE"}, table)
}
