package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/extract"
)

// ErrValidationFailed is returned by validate for a sheet with findings, so
// the process exits non-zero after the report is printed.
var ErrValidationFailed = errors.New("sheet failed validation")

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "itemctl",
		Short: "Stage, review and apply item spreadsheets",
		Long: `itemctl validates an item spreadsheet exported as CSV, loads it into the
staging table, shows how staging differs from production and applies the
selected changes in one transaction.

Configuration comes from the environment (and .env), the same as the server.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.PersistentFlags().StringVar(&a.databaseURL, "database-url", "", "Postgres connection string (overrides DATABASE_URL)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "", "output format: table, json, yaml (default table on a terminal, json otherwise)")

	root.AddCommand(
		a.columnsCommand(),
		a.validateCommand(),
		a.stageCommand(),
		a.diffCommand(),
		a.applyCommand(),
		a.stagingCommand(),
		a.identifiersCommand(),
	)
	return root
}

func (a *App) columnsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "columns",
		Short: "Show the column map in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.print(cmd, a.cm, func() Table {
				t := Table{Headers: []string{"Index", "Header", "Field", "Type", "Required"}}
				for _, c := range a.cm.Columns {
					req := ""
					if c.Required {
						req = "yes"
					}
					t.Rows = append(t.Rows, []string{strconv.Itoa(c.Index), c.Header, c.Field, string(c.Type), req})
				}
				return t
			})
		},
	}
}

func (a *App) readSheet(path string) (core.Sheet, error) {
	return extract.ReadCSVFile(path, extract.Options{
		MaxSize:    a.cfg.Import.MaxFileSize,
		HeaderRows: a.cfg.Import.HeaderRows,
	})
}

func (a *App) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a CSV file without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sheet, err := a.readSheet(args[0])
			if err != nil {
				return err
			}
			if err := core.CheckHeader(sheet.Header, a.cm); err != nil {
				return err
			}
			report, err := core.Validate(sheet, a.cm)
			if err != nil {
				return err
			}

			if err := a.print(cmd, report, func() Table { return findingsTable(report) }); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("%w: %d findings", ErrValidationFailed, report.FindingCount())
			}
			return nil
		},
	}
}

func findingsTable(r *core.ValidationReport) Table {
	t := Table{Headers: []string{"Row", "Check", "Column", "Value", "Problem"}}
	for _, f := range r.Findings() {
		t.Rows = append(t.Rows, []string{strconv.Itoa(f.Row), string(f.Category), f.Column, f.Value, f.Message})
	}
	if len(t.Rows) == 0 {
		t.Rows = append(t.Rows, []string{"", "", "", "", fmt.Sprintf("%d rows, no problems found", r.TotalRows)})
	}
	return t
}

func (a *App) stageCommand() *cobra.Command {
	var clearFirst bool

	cmd := &cobra.Command{
		Use:   "stage FILE",
		Short: "Validate a CSV file and load it into staging",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sheet, err := a.readSheet(args[0])
			if err != nil {
				return err
			}
			svc, err := a.Service(cmd.Context())
			if err != nil {
				return err
			}

			progress := func(p core.Progress) {
				fmt.Fprintf(a.stderr, "\rstaging %d/%d (%d%%)", p.Current, p.Total, p.Percent())
			}
			result, err := svc.LoadSheet(cmd.Context(), sheet, clearFirst, progress)
			fmt.Fprintln(a.stderr)

			var rejected *core.ValidationRejectedError
			if errors.As(err, &rejected) {
				if perr := a.print(cmd, rejected.Report, func() Table { return findingsTable(rejected.Report) }); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}

			if err := a.print(cmd, result, func() Table { return loadTable(result) }); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("%d of %d rows failed to stage", result.FailedRows, result.TotalRows)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearFirst, "clear", false, "empty staging before loading")
	return cmd
}

func loadTable(r core.LoadResult) Table {
	t := Table{
		Headers: []string{"Total", "Staged", "Failed"},
		Rows:    [][]string{{strconv.Itoa(r.TotalRows), strconv.Itoa(r.SuccessfulRows), strconv.Itoa(r.FailedRows)}},
	}
	for _, e := range r.Errors {
		t.Rows = append(t.Rows, []string{"", "", e.Batch + ": " + e.Error})
	}
	return t
}

func (a *App) diffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Show how staging differs from production",
		Long: `diff lists NEW, MODIFIED and DELETED changes between staging and
production. Use -o json to get the change IDs that apply accepts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.Service(cmd.Context())
			if err != nil {
				return err
			}
			diff, err := svc.Diff(cmd.Context())
			if err != nil {
				return err
			}

			out := struct {
				Summary core.DiffSummary `json:"summary" yaml:"summary"`
				Entries []core.DiffEntry `json:"entries" yaml:"entries"`
			}{core.Summarize(diff), diff}
			return a.print(cmd, out, func() Table { return diffTable(diff) })
		},
	}
}

func diffTable(diff []core.DiffEntry) Table {
	t := Table{Headers: []string{"#", "Change", "Item", "Field", "Old", "New"}}
	for i, d := range diff {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(i + 1),
			string(d.ChangeType),
			d.Key,
			d.Field,
			textOrNull(d.OldValue.String, d.OldValue.Valid),
			textOrNull(d.NewValue.String, d.NewValue.Valid),
		})
	}
	return t
}

func textOrNull(s string, valid bool) string {
	if !valid {
		return "NULL"
	}
	return s
}

func (a *App) applyCommand() *cobra.Command {
	var (
		all     bool
		only    string
		idsFile string
	)

	cmd := &cobra.Command{
		Use:   "apply [ID...]",
		Short: "Apply selected changes to production in one transaction",
		Long: `apply commits the given change IDs. IDs come from "itemctl diff -o json"
and can be passed as arguments, one per line with --ids-file (- for stdin),
or all at once with --all. Nothing is applied unless every change succeeds.`,
		Example: `  itemctl diff -o json | jq -r '.entries[].id' | itemctl apply --ids-file -
  itemctl apply --all --only NEW`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.Service(cmd.Context())
			if err != nil {
				return err
			}

			ids := args
			if idsFile != "" {
				fromFile, err := readIDs(cmd.InOrStdin(), idsFile)
				if err != nil {
					return err
				}
				ids = append(ids, fromFile...)
			}
			if all {
				diff, err := svc.Diff(cmd.Context())
				if err != nil {
					return err
				}
				for _, d := range diff {
					if only == "" || strings.EqualFold(string(d.ChangeType), only) {
						ids = append(ids, d.ID)
					}
				}
				if len(ids) == 0 {
					fmt.Fprintln(a.stderr, "nothing to apply")
					return nil
				}
			}

			result, err := svc.ApplyChanges(cmd.Context(), ids)
			if perr := a.print(cmd, result, func() Table {
				return Table{
					Headers: []string{"Applied", "Message"},
					Rows:    [][]string{{strconv.Itoa(result.AppliedCount), result.Message}},
				}
			}); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "apply every change in the current diff")
	cmd.Flags().StringVar(&only, "only", "", "with --all, apply only NEW, MODIFIED or DELETED changes")
	cmd.Flags().StringVar(&idsFile, "ids-file", "", "read change IDs one per line from a file (- for stdin)")
	return cmd
}

// readIDs reads newline separated change IDs. Blank lines are skipped.
func readIDs(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, sc.Err()
}

func (a *App) stagingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect or clear the staging table",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show how many rows staging holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.Service(cmd.Context())
			if err != nil {
				return err
			}
			status, err := svc.StagingStatus(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, status, func() Table {
				return Table{
					Headers: []string{"Rows", "Has Data"},
					Rows:    [][]string{{strconv.FormatInt(status.RowCount, 10), strconv.FormatBool(status.HasData)}},
				}
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the staging table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.Service(cmd.Context())
			if err != nil {
				return err
			}
			return svc.ClearStaging(cmd.Context())
		},
	})

	return cmd
}

func (a *App) identifiersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identifiers",
		Short: "Manage the UPC and GTIN identifier index",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the identifier index from production",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.Service(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.RefreshIdentifierIndex(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]int64{"count": n}, func() Table {
				return Table{Headers: []string{"Identifiers"}, Rows: [][]string{{strconv.FormatInt(n, 10)}}}
			})
		},
	})

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the identifier index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.Service(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := svc.ListIdentifiers(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.print(cmd, ids, func() Table {
				t := Table{Headers: []string{"Item", "Kind", "Level", "Code", "Sellable"}}
				for _, id := range ids {
					t.Rows = append(t.Rows, []string{id.ItemCode, string(id.Kind), id.Level, id.Code, strconv.FormatBool(id.IsSellable)})
				}
				return t
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", core.DefaultIdentifierLimit, "maximum rows to list")
	cmd.AddCommand(list)

	return cmd
}
