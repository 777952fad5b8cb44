package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"gorm/shardroute/algorithm"
	"gorm/shardroute/config"
	"gorm/shardroute/hint"
	"gorm/shardroute/metadata"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

type explainCommand struct {
	ConfigPath string
	SQL        string
	Args       []string
	DataSource string
	Primary    bool
}

func newRootCommand() *cobra.Command {
	c := &explainCommand{}
	cmd := &cobra.Command{
		Use:   "routeexplain",
		Short: "Explain how a statement routes over the sharding rule.",
		Long: `
Parses the statement, routes it with the sharding rule of the config file and
prints every routing unit with the sql it would run. Nothing is executed.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.ConfigPath)
			if err != nil {
				return err
			}
			rule, err := config.BuildRule(cfg, algorithm.DefaultRegistry(), config.NewInstanceCache())
			if err != nil {
				return err
			}
			return c.explain(cmd.OutOrStdout(), rule)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&c.ConfigPath, "config", "c", "shardroute.yaml", "config file")
	flags.StringVarP(&c.SQL, "sql", "s", "", "statement to explain, ? for parameters")
	flags.StringArrayVarP(&c.Args, "arg", "a", nil, "parameter value, repeatable")
	flags.StringVar(&c.DataSource, "datasource", "", "pin routing to a data source")
	flags.BoolVar(&c.Primary, "primary", false, "route reads to primaries")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}

func (c *explainCommand) explain(w io.Writer, rule *metadata.ShardingRule) error {
	stmt, err := statement.Parse(c.SQL)
	if err != nil {
		return err
	}
	params := make([]any, len(c.Args))
	for i, a := range c.Args {
		params[i] = parseArg(a)
	}
	stmt = stmt.Bind(params)

	ctx := context.Background()
	if c.DataSource != "" {
		ctx = hint.WithDataSource(ctx, c.DataSource)
	}
	if c.Primary {
		ctx = hint.WithPrimary(ctx)
	}
	res, err := route.New(rule).Route(ctx, stmt)
	if err != nil {
		return errors.Wrap(err, "route")
	}

	fmt.Fprintf(w, "%s %s, %d unit(s)\n", stmt.Category, res.Engine, len(res.Units))
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "DATA SOURCE", "ACTUAL", "TABLES", "SQL", "ARGS"})
	for i, unit := range res.Units {
		var (
			query string
			args  []any
		)
		if unit.InsertRows != nil {
			query, args, err = stmt.RewriteInsert(unit.TableMap(), unit.InsertRows)
		} else {
			query, args, err = stmt.Rewrite(unit.TableMap(), !res.IsSingle())
		}
		if err != nil {
			return errors.Wrapf(err, "rewrite unit %s", unit)
		}
		tables := make([]string, len(unit.Tables))
		for j, tu := range unit.Tables {
			tables[j] = tu.LogicTable + "->" + tu.ActualTable
		}
		t.AppendRow(table.Row{i, unit.DataSource, unit.ActualDataSource, strings.Join(tables, " "), query, fmt.Sprint(args)})
	}
	t.Render()
	return nil
}

// parseArg reads integers, floats, NULL and quoted strings; anything else is
// a string.
func parseArg(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.EqualFold(s, "null") {
		return nil
	}
	if uq, err := strconv.Unquote(s); err == nil {
		return uq
	}
	return s
}
