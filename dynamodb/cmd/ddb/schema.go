package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/acksell/ddbmodel/dynamodb/table"
	"gopkg.in/yaml.v3"
)

func runSchema(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var o options
	o.registerSchema(fs, cfg)
	all := fs.Bool("all", false, "validate every "+table.DefaultSchemaFile+" below the current directory")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), `ddb schema - Load, validate and print the table schema

Usage:
  ddb schema [--file PATH] [--table NAME]
  ddb schema --all

Without --all the schema is printed as normalized YAML. With --table only
that table is printed.

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *all {
		return checkAllSchemas(stdout)
	}

	s, path, err := o.loadSchema()
	if err != nil {
		return err
	}
	if o.table != "" {
		ts, err := o.tableSchema(s)
		if err != nil {
			return err
		}
		s = table.Schema{Tables: []table.TableSchema{ts}}
	}

	fmt.Fprintf(stdout, "# %s\n", path)
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

// checkAllSchemas validates each discovered schema file and reports one line
// per file.
func checkAllSchemas(stdout io.Writer) error {
	files, err := DiscoverSchemas(table.DefaultSchemaFile)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no %s files found", table.DefaultSchemaFile)
	}

	var failed int
	for _, f := range files {
		s, err := table.LoadSchema(f)
		if err != nil {
			failed++
			fmt.Fprintf(stdout, "FAIL %s: %v\n", f, err)
			continue
		}
		fmt.Fprintf(stdout, "ok   %s (%d tables)\n", f, len(s.Tables))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d schema files are invalid", failed, len(files))
	}
	return nil
}
