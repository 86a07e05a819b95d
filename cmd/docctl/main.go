// Command docctl reads and writes single documents through a docrepo
// repository.
//
// Usage:
//
//	docctl -template '{0}/stock/{1}/items' -values acme,w1 -id i1 get
//	docctl -template '{0}/stock/{1}/items' -values acme,w1 -data '{"name":"bolt"}' set
//	docctl -template '{0}/stock/{1}/items' -values acme,w1 -id i1 -data '{"stock":4}' update
//	docctl -template '{0}/stock/{1}/items' -values acme,w1 -id i1 delete
//
// The document store is selected with DB_DRIVER; see internal/config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/forgo/docrepo/internal/config"
	"github.com/forgo/docrepo/internal/database"
	"github.com/forgo/docrepo/pkg/docrepo"
	"github.com/google/uuid"
)

// Document is a schemaless entity keyed by its "id" field.
type Document map[string]interface{}

// GetID returns the document id.
func (d Document) GetID() string {
	id, _ := d["id"].(string)
	return id
}

var errUsage = errors.New("usage: docctl [flags] get|set|update|delete")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx := context.Background()
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database",
			slog.String("driver", cfg.Database.Driver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	if err := run(ctx, store, cfg, os.Args[1:], os.Stdout); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openStore creates and connects the store named by the driver.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (database.Store, error) {
	dbCfg := database.Config{
		Host:       cfg.Host,
		Port:       cfg.Port,
		User:       cfg.User,
		Password:   cfg.Password,
		Namespace:  cfg.Namespace,
		Database:   cfg.Database,
		URI:        cfg.URI,
		ProjectID:  cfg.ProjectID,
		DatabaseID: cfg.DatabaseID,
	}

	var store database.Store
	switch cfg.Driver {
	case config.DriverSurrealDB:
		store = database.NewSurrealDB(dbCfg)
	case config.DriverFirestore:
		store = database.NewFirestore(dbCfg)
	case config.DriverMongoDB:
		store = database.NewMongoDB(dbCfg)
	case config.DriverMemory:
		store = database.NewMemory()
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := store.Connect(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// run executes one docctl command against store and writes any output to out.
func run(ctx context.Context, store docrepo.Client, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("docctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	template := fs.String("template", "", "Collection path template, e.g. {0}/stock/{1}/items")
	values := fs.String("values", "", "Comma-separated values for the template placeholders")
	id := fs.String("id", "", "Document id (generated for set when empty)")
	data := fs.String("data", "", "Document body as a JSON object")
	strict := fs.Bool("strict", false, "Reject paths with unresolved placeholders")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 || *template == "" {
		return errUsage
	}

	var pathValues []string
	if *values != "" {
		pathValues = strings.Split(*values, ",")
	}

	opts := []docrepo.Option{docrepo.WithLogger(slog.Default())}
	if *strict {
		opts = append(opts, docrepo.WithStrictPaths())
	}
	repo := docrepo.New[Document](store, *template, opts...)

	ctx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	defer cancel()

	switch cmd := fs.Arg(0); cmd {
	case "get":
		if *id == "" {
			return fmt.Errorf("%w: get requires -id", errUsage)
		}
		doc, err := repo.FindByID(ctx, *id, pathValues...).Await(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)

	case "set", "update":
		doc, err := parseDocument(*data)
		if err != nil {
			return err
		}
		switch {
		case *id != "":
			doc["id"] = *id
		case doc.GetID() != "":
			// id taken from -data
		case cmd == "set":
			doc["id"] = uuid.NewString()
		default:
			return fmt.Errorf("%w: update requires -id", errUsage)
		}

		result := repo.Insert
		if cmd == "update" {
			result = repo.Update
		}
		if _, err := result(ctx, doc, pathValues...).Await(ctx); err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, doc.GetID())
		return err

	case "delete":
		if *id == "" {
			return fmt.Errorf("%w: delete requires -id", errUsage)
		}
		_, err := repo.Delete(ctx, *id, pathValues...).Await(ctx)
		return err

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func parseDocument(data string) (Document, error) {
	if data == "" {
		return Document{}, nil
	}
	var doc Document
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: -data must be a JSON object: %v", errUsage, err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}
