package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddbsdk"
	"github.com/acksell/ddbmodel/dynamodb/expr"
)

func runGet(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var o options
	o.registerSchema(fs, cfg)
	o.registerBackend(fs, cfg)
	var (
		pk         = fs.String("pk", "", "partition key value (required)")
		sk         = fs.String("sk", "", "sort key value")
		attrs      = fs.String("attrs", "", "comma-separated attributes to return")
		consistent = fs.Bool("consistent", false, "strongly consistent read")
	)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), `ddb get - Read one item by key

Usage:
  ddb get --pk VALUE [--sk VALUE] [flags]

Prints the item as one JSON object. Binary key values are given base64 encoded.

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pk == "" {
		return errors.New("--pk is required")
	}

	b, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	key, err := primaryKey(b.def.KeyDefinitions, *pk, *sk)
	if err != nil {
		return err
	}
	get := ddbsdk.NewGet(key)
	if fields := splitList(*attrs); len(fields) > 0 {
		get.WithProjection(fields...)
	}
	if *consistent {
		get.WithConsistentRead()
	}

	item, err := b.client.GetItem(ctx, get)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("no item with key %s", key)
	}
	return newPrinter(stdout).item(item)
}

// pageFlags are shared by query and scan.
type pageFlags struct {
	limit    int
	maxPages int
	attrs    string
}

func (p *pageFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&p.limit, "limit", 0, "items evaluated per page (0: store default)")
	fs.IntVar(&p.maxPages, "max-pages", 0, "stop after this many pages (0: all)")
	fs.StringVar(&p.attrs, "attrs", "", "comma-separated attributes to return")
}

func (p *pageFlags) validate() error {
	if p.limit < 0 || p.maxPages < 0 {
		return errors.New("--limit and --max-pages must not be negative")
	}
	return nil
}

// printPages writes each page as one JSON line until the pages run out or
// maxPages are printed.
func printPages(ctx context.Context, stdout io.Writer, pg *ddbsdk.Paginator, maxPages int) error {
	pr := newPrinter(stdout)
	for n := 0; pg.HasMorePages() && (maxPages == 0 || n < maxPages); n++ {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return err
		}
		if err := pr.page(page); err != nil {
			return err
		}
	}
	return nil
}

func runQuery(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		o     options
		pages pageFlags
	)
	o.registerSchema(fs, cfg)
	o.registerBackend(fs, cfg)
	pages.register(fs)
	var (
		pk         = fs.String("pk", "", "partition key value (required)")
		skPrefix   = fs.String("sk-prefix", "", "only sort keys starting with this prefix")
		index      = fs.String("index", "", "query this secondary index")
		desc       = fs.Bool("desc", false, "descending sort key order")
		consistent = fs.Bool("consistent", false, "strongly consistent read")
	)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), `ddb query - Query a partition

Usage:
  ddb query --pk VALUE [--sk-prefix PREFIX] [--index NAME] [flags]

Prints one JSON line per page: {"items": [...], "count": N, "cursor": {...}}.

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pk == "" {
		return errors.New("--pk is required")
	}
	if err := pages.validate(); err != nil {
		return err
	}

	b, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	keys := b.def.KeyDefinitions
	if *index != "" {
		idx, ok := b.def.Index(*index)
		if !ok {
			return fmt.Errorf("table %q has no index %q", b.def.Name, *index)
		}
		keys = idx.KeyDefinitions
	}
	partition, err := keyValue(keys.PartitionKey, *pk)
	if err != nil {
		return err
	}

	kc := expr.PartitionOnly(partition)
	if *skPrefix != "" {
		kc = expr.Key(partition, expr.BeginsWith(*skPrefix))
	}
	q := ddbsdk.NewQuery(kc).WithLimit(int32(pages.limit))
	if *index != "" {
		q.OnIndex(*index)
	}
	if *desc {
		q.Descending()
	}
	if *consistent {
		q.WithConsistentRead()
	}
	if fields := splitList(pages.attrs); len(fields) > 0 {
		q.WithProjection(fields...)
	}
	return printPages(ctx, stdout, b.client.NewQueryPaginator(q), pages.maxPages)
}

func runScan(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		o     options
		pages pageFlags
	)
	o.registerSchema(fs, cfg)
	o.registerBackend(fs, cfg)
	pages.register(fs)
	var (
		index   = fs.String("index", "", "scan this secondary index")
		segment = fs.Int("segment", 0, "segment of a parallel scan")
		total   = fs.Int("segments", 0, "total segments of a parallel scan (0: no segmenting)")
	)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), `ddb scan - Scan a table

Usage:
  ddb scan [--index NAME] [--segment N --segments M] [flags]

Prints one JSON line per page: {"items": [...], "count": N, "cursor": {...}}.

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := pages.validate(); err != nil {
		return err
	}

	b, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	sc := ddbsdk.NewScan().WithLimit(int32(pages.limit))
	if *index != "" {
		sc.OnIndex(*index)
	}
	if *total > 0 {
		sc.WithSegment(int32(*segment), int32(*total))
	}
	if fields := splitList(pages.attrs); len(fields) > 0 {
		sc.WithProjection(fields...)
	}
	return printPages(ctx, stdout, b.client.NewScanPaginator(sc), pages.maxPages)
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
