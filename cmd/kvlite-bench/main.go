// Command kvlite-bench drives load against a kvlite cache and reports
// upsert/get/cascade throughput. Scenarios can be described on the command
// line with pflag or loaded in bulk from a JSON or YAML scenario file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/google/uuid"

	"github.com/kvlitecache/kvlite"
	"github.com/kvlitecache/kvlite/internal/sqlstore"
)

// scenario describes one load-generation run. Scenario files hold a list of
// these, run back to back with a fresh cache per scenario.
type scenario struct {
	Name       string `json:"name" yaml:"name"`
	Entries    int    `json:"entries" yaml:"entries"`
	ChainDepth int    `json:"chain_depth" yaml:"chain_depth"`
	ValueBytes int    `json:"value_bytes" yaml:"value_bytes"`
	Partition  string `json:"partition" yaml:"partition"`
}

// result holds the measured throughput for a single scenario.
type result struct {
	Scenario      string        `json:"scenario"`
	RunID         string        `json:"run_id"`
	Entries       int           `json:"entries"`
	UpsertElapsed time.Duration `json:"upsert_elapsed"`
	GetElapsed    time.Duration `json:"get_elapsed"`
	CascadeDelete time.Duration `json:"cascade_elapsed"`
	UpsertPerSec  float64       `json:"upsert_per_sec"`
	GetPerSec     float64       `json:"get_per_sec"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kvlite-bench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dbPath       string
		scenarioFile string
		entries      int
		chainDepth   int
		valueBytes   int
		outFormat    string
	)

	flag.StringVar(&dbPath, "db", "kvlite-bench.db", "Path to the SQLite database file")
	flag.StringVar(&scenarioFile, "scenario", "", "JSON or YAML scenario file (overrides the single-run flags below)")
	flag.IntVar(&entries, "entries", 10000, "Number of keys to upsert for a single ad-hoc run")
	flag.IntVar(&chainDepth, "chain-depth", 0, "Parent-chain depth for each entry, exercises cascade deletes")
	flag.IntVar(&valueBytes, "value-bytes", 256, "Size in bytes of each generated value")
	flag.StringVar(&outFormat, "format", "text", "Output format: text or json")

	flag.Parse()

	scenarios, err := loadScenarios(scenarioFile, entries, chainDepth, valueBytes)
	if err != nil {
		return err
	}

	results := make([]result, 0, len(scenarios))

	for _, sc := range scenarios {
		r, err := runScenario(context.Background(), dbPath, sc)
		if err != nil {
			return fmt.Errorf("scenario %q: %w", sc.Name, err)
		}

		results = append(results, r)
	}

	return printResults(outFormat, results)
}

// loadScenarios resolves the scenario list: either a scenario file, or a
// single synthetic scenario built from the ad-hoc flags.
func loadScenarios(path string, entries, chainDepth, valueBytes int) ([]scenario, error) {
	if path == "" {
		return []scenario{{
			Name:       "adhoc",
			Entries:    entries,
			ChainDepth: chainDepth,
			ValueBytes: valueBytes,
		}}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenarios []scenario

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &scenarios)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &scenarios)
	default:
		return nil, fmt.Errorf("unrecognized scenario file extension: %s", path)
	}

	if err != nil {
		return nil, fmt.Errorf("parse scenario file: %w", err)
	}

	for i := range scenarios {
		if scenarios[i].ValueBytes == 0 {
			scenarios[i].ValueBytes = 256
		}
	}

	return scenarios, nil
}

// runScenario opens a fresh cache backed by dbPath, upserts sc.Entries keys
// (each with an sc.ChainDepth-long parent chain when requested), times a
// full read-back pass, then times a single cascade delete of the oldest
// chain root, and reports throughput.
func runScenario(ctx context.Context, dbPath string, sc scenario) (result, error) {
	conn := sqlstore.New(dbPath)
	cfg := kvlite.DefaultConfig()

	facade, err := kvlite.NewCacheFacade(ctx, conn, kvlite.SystemClock{}, cfg)
	if err != nil {
		return result{}, err
	}
	defer facade.Close()

	partition := sc.Partition
	if partition == "" {
		partition = "bench"
	}

	runID := uuid.NewString()
	value := strings.Repeat("x", sc.ValueBytes)

	keys := make([]string, sc.Entries)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%06d", runID, i)
	}

	upsertStart := time.Now()

	for i, key := range keys {
		parents := parentChain(keys, i, sc.ChainDepth)

		err := facade.AddStatic(ctx, partition, key, value, parents...)
		if err != nil {
			return result{}, fmt.Errorf("upsert %s: %w", key, err)
		}
	}

	upsertElapsed := time.Since(upsertStart)

	getStart := time.Now()

	for _, key := range keys {
		_, _, err := kvlite.Get[string](ctx, facade, partition, key)
		if err != nil {
			return result{}, fmt.Errorf("get %s: %w", key, err)
		}
	}

	getElapsed := time.Since(getStart)

	var cascadeElapsed time.Duration

	if sc.ChainDepth > 0 && len(keys) > 0 {
		cascadeStart := time.Now()

		if err := facade.Remove(ctx, partition, keys[0]); err != nil {
			return result{}, fmt.Errorf("cascade delete %s: %w", keys[0], err)
		}

		cascadeElapsed = time.Since(cascadeStart)
	}

	r := result{
		Scenario:      sc.Name,
		RunID:         runID,
		Entries:       sc.Entries,
		UpsertElapsed: upsertElapsed,
		GetElapsed:    getElapsed,
		CascadeDelete: cascadeElapsed,
	}

	if upsertElapsed > 0 {
		r.UpsertPerSec = float64(sc.Entries) / upsertElapsed.Seconds()
	}

	if getElapsed > 0 {
		r.GetPerSec = float64(sc.Entries) / getElapsed.Seconds()
	}

	return r, nil
}

// parentChain picks up to depth earlier keys as parents for keys[i], walking
// backward so a chain of cascading deletes forms as entries accumulate.
func parentChain(keys []string, i, depth int) []string {
	if depth <= 0 || i == 0 {
		return nil
	}

	n := depth
	if n > i {
		n = i
	}

	parents := make([]string, 0, n)

	for j := 0; j < n; j++ {
		idx := i - 1 - rand.IntN(min(i, depth))
		if idx < 0 {
			idx = 0
		}

		parents = append(parents, keys[idx])
	}

	return parents
}

func printResults(format string, results []result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(results)
	default:
		for _, r := range results {
			fmt.Printf("scenario=%-12s entries=%-8d upsert=%-12s (%.0f/s)  get=%-12s (%.0f/s)  cascade=%s\n",
				r.Scenario, r.Entries, r.UpsertElapsed, r.UpsertPerSec, r.GetElapsed, r.GetPerSec, r.CascadeDelete)
		}

		return nil
	}
}
