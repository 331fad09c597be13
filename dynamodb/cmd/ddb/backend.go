package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/acksell/ddbmodel/dynamodb/ddbiface"
	"github.com/acksell/ddbmodel/dynamodb/ddbsdk"
	"github.com/acksell/ddbmodel/dynamodb/ddbstore"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// options are the flags shared by the commands.
type options struct {
	file    string
	table   string
	verbose bool

	region   string
	profile  string
	endpoint string

	memory  bool
	dataDir string
}

// registerSchema adds the flags selecting the schema and table.
func (o *options) registerSchema(fs *flag.FlagSet, cfg Config) {
	fs.StringVar(&o.file, "file", cfg.Schema, "schema file (default: nearest "+table.DefaultSchemaFile+")")
	fs.StringVar(&o.table, "table", "", "table name; may be omitted if the schema has one table")
	fs.BoolVar(&o.verbose, "verbose", false, "log at debug level in a human-readable format")
}

// registerAWS adds the AWS SDK configuration flags.
func (o *options) registerAWS(fs *flag.FlagSet, cfg Config) {
	fs.StringVar(&o.region, "region", cfg.Region, "AWS region")
	fs.StringVar(&o.profile, "profile", cfg.Profile, "AWS shared config profile")
}

// registerBackend adds the flags choosing between DynamoDB and a local store.
func (o *options) registerBackend(fs *flag.FlagSet, cfg Config) {
	o.registerAWS(fs, cfg)
	fs.StringVar(&o.endpoint, "endpoint", cfg.Endpoint, "DynamoDB endpoint override, e.g. http://localhost:8000")
	fs.BoolVar(&o.memory, "memory", false, "use an empty in-memory store")
	fs.StringVar(&o.dataDir, "db", cfg.DataDir, "use the BadgerDB store in this directory")
}

func (o *options) logger() (*zap.Logger, error) {
	if o.verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadSchema reads --file, or the nearest ddb.yaml.
func (o *options) loadSchema() (table.Schema, string, error) {
	path := o.file
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return table.Schema{}, "", err
		}
		path = table.FindSchemaFile(wd, table.DefaultSchemaFile)
		if path == "" {
			return table.Schema{}, "", fmt.Errorf("no %s found; pass --file", table.DefaultSchemaFile)
		}
	}
	s, err := table.LoadSchema(path)
	if err != nil {
		return table.Schema{}, path, fmt.Errorf("%s: %w", path, err)
	}
	return s, path, nil
}

// tableSchema picks --table from s.
func (o *options) tableSchema(s table.Schema) (table.TableSchema, error) {
	if o.table == "" {
		if len(s.Tables) == 1 {
			return s.Tables[0], nil
		}
		return table.TableSchema{}, errors.New("--table is required when the schema has several tables")
	}
	t, ok := s.Table(o.table)
	if !ok {
		return table.TableSchema{}, fmt.Errorf("table %q is not in the schema", o.table)
	}
	return t, nil
}

func (o *options) awsConfig(ctx context.Context) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	if o.profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(o.profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return cfg, nil
}

// backend is an opened client for one table.
type backend struct {
	client *ddbsdk.Client
	def    table.TableDefinition
	log    *zap.Logger
	closer func() error
}

func (b *backend) Close() error {
	err := b.closer()
	_ = b.log.Sync()
	return err
}

// open builds the client for the selected table and backend.
func (o *options) open(ctx context.Context) (*backend, error) {
	if o.memory && o.dataDir != "" {
		return nil, errors.New("--memory and --db are mutually exclusive")
	}
	s, _, err := o.loadSchema()
	if err != nil {
		return nil, err
	}
	ts, err := o.tableSchema(s)
	if err != nil {
		return nil, err
	}
	def := ts.Definition()

	log, err := o.logger()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	var awsddb ddbiface.AWSDynamoClientV2
	closer := func() error { return nil }
	if o.memory || o.dataDir != "" {
		store, err := ddbstore.New(ddbstore.StoreOptions{
			Path:     o.dataDir,
			InMemory: o.memory,
			Logger:   log,
		}, s.Definitions()...)
		if err != nil {
			return nil, err
		}
		awsddb, closer = store, store.Close
	} else {
		cfg, err := o.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		awsddb = dynamodb.NewFromConfig(cfg, func(opts *dynamodb.Options) {
			if o.endpoint != "" {
				opts.BaseEndpoint = aws.String(o.endpoint)
			}
		})
	}

	client, err := ddbsdk.New(awsddb, def, ddbsdk.WithLogger(log))
	if err != nil {
		_ = closer()
		return nil, err
	}
	return &backend{client: client, def: def, log: log, closer: closer}, nil
}

// keyValue converts a command line key value for a key of kind kd. B keys
// are given base64 encoded.
func keyValue(kd table.KeyDef, raw string) (any, error) {
	var v any = raw
	if kd.Kind == table.KeyKindB {
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", kd.Name, err)
		}
		v = b
	}
	if _, err := kd.AttributeValue(v); err != nil {
		return nil, err
	}
	return v, nil
}

// primaryKey builds a table key from --pk and --sk.
func primaryKey(def table.PrimaryKeyDefinition, pk, sk string) (table.PrimaryKey, error) {
	pv, err := keyValue(def.PartitionKey, pk)
	if err != nil {
		return table.PrimaryKey{}, err
	}
	key := table.PrimaryKey{Definition: def, Values: table.PrimaryKeyValues{PartitionKey: pv}}
	if !def.HasSortKey() {
		if sk != "" {
			return table.PrimaryKey{}, errors.New("--sk given but the table has no sort key")
		}
		return key, nil
	}
	if sk == "" {
		return table.PrimaryKey{}, fmt.Errorf("--sk is required, the table sorts by %q", def.SortKey.Name)
	}
	if key.Values.SortKey, err = keyValue(def.SortKey, sk); err != nil {
		return table.PrimaryKey{}, err
	}
	return key, nil
}
