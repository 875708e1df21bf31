package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"clonetest/config"
	"clonetest/remote"
	"clonetest/scenario"
	"clonetest/shim"
	"clonetest/snapshot"
	"clonetest/vm"
)

const defaultConfig = "./clonetest.toml"

// cli carries the process streams; tests swap the remote for a fake chain.
type cli struct {
	stdout io.Writer
	logOut io.Writer
	chain  remote.Chain
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c := cli{stdout: os.Stdout}
	if err := c.exec(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c cli) exec(ctx context.Context, args []string) error {
	if len(args) < 1 {
		c.usage()
		return flag.ErrHelp
	}
	switch args[0] {
	case "capture":
		return c.runCapture(ctx, args[1:])
	case "inspect":
		return c.runInspect(ctx, args[1:])
	case "invalidate":
		return c.runInvalidate(ctx, args[1:])
	case "run":
		return c.runScenarios(ctx, args[1:])
	case "serve":
		return c.runServe(ctx, args[1:])
	default:
		c.usage()
		return flag.ErrHelp
	}
}

func (c cli) usage() {
	fmt.Fprintln(c.stdout, `Usage: clonectl <command> [flags]

Commands:
  capture     fork the configured chain at a height and persist the snapshot cache
  inspect     read a contract, raw storage key, smart query or balance from a snapshot
  invalidate  drop the persisted cache of a snapshot
  run         execute YAML scenario files against a snapshot
  serve       expose metrics, snapshots and run history over HTTP`)
}

func (c cli) open(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, c.chain, c.logOut)
}

func (c cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c cli) runCapture(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the clonetest config file")
	height := fs.Uint64("height", 0, "Fork height; defaults to the config or the latest block")
	prefetch := fs.String("prefetch", "", "Comma-separated contract addresses whose info and code to fetch eagerly")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, *configPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close()) }()

	snap, err := a.capture(ctx, *height)
	if err != nil {
		return err
	}
	if contracts := splitList(*prefetch); len(contracts) > 0 {
		sh := shim.New(a.store, snap, a.logger)
		keys := make([]snapshot.EntryKey, 0, len(contracts))
		for _, addr := range contracts {
			keys = append(keys, snapshot.ContractKey(addr))
		}
		if err := sh.Prefetch(ctx, a.cfg.Parallelism, keys...); err != nil {
			return err
		}
		for _, addr := range contracts {
			info, found, err := sh.ContractInfo(ctx, addr)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("prefetch: contract %s not found at %s", addr, snap.Key())
			}
			if _, _, err := sh.Code(ctx, info.CodeID); err != nil {
				return err
			}
		}
	}
	if err := a.store.Flush(snap); err != nil {
		return err
	}
	return c.printJSON(snapshotView(snap))
}

func (c cli) runInspect(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the clonetest config file")
	height := fs.Uint64("height", 0, "Snapshot height")
	contract := fs.String("contract", "", "Contract address")
	rawKey := fs.String("key", "", "Hex-encoded raw storage key of -contract")
	query := fs.String("query", "", "JSON smart query sent to -contract")
	address := fs.String("balance", "", "Account whose balance of -denom to read")
	denom := fs.String("denom", "", "Denomination for -balance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, *configPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close()) }()

	snap, err := a.capture(ctx, *height)
	if err != nil {
		return err
	}
	sh := shim.New(a.store, snap, a.logger)
	switch {
	case *address != "":
		if *denom == "" {
			return errors.New("-balance requires -denom")
		}
		amount, err := sh.Balance(ctx, *address, *denom)
		if err != nil {
			return err
		}
		return c.printJSON(map[string]string{"address": *address, "denom": *denom, "amount": amount.String()})
	case *contract != "" && *rawKey != "":
		key, err := hex.DecodeString(strings.TrimPrefix(*rawKey, "0x"))
		if err != nil {
			return fmt.Errorf("-key: %w", err)
		}
		v, err := sh.RawStorage(ctx, *contract, key)
		if err != nil {
			return err
		}
		return c.printJSON(map[string]interface{}{"found": v.Found, "value": string(v.Data)})
	case *contract != "" && *query != "":
		env := vm.NewEnv(snap.Manifest(), a.registry, vm.WithLogger(a.logger), vm.WithBech32Prefix(a.cfg.Bech32Prefix))
		out, err := env.QuerySmart(ctx, sh.NewOverlay(), *contract, []byte(*query))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.stdout, string(out))
		return err
	case *contract != "":
		info, err := contractView(ctx, sh, *contract)
		if err != nil {
			return err
		}
		return c.printJSON(info)
	default:
		return errors.New("inspect needs -contract or -balance")
	}
}

func (c cli) runInvalidate(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the clonetest config file")
	height := fs.Uint64("height", 0, "Snapshot height to drop")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *height == 0 {
		return errors.New("invalidate requires -height")
	}
	a, err := c.open(ctx, *configPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close()) }()
	if err := a.store.Invalidate(a.cfg.ChainID, *height); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.stdout, "invalidated %s\n", snapshot.Key{ChainID: a.cfg.ChainID, Height: *height})
	return err
}

func (c cli) runScenarios(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the clonetest config file")
	height := fs.Uint64("height", 0, "Snapshot height")
	record := fs.Bool("record", true, "Persist reports to the run history and check determinism")
	asJSON := fs.Bool("json", false, "Print full reports as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("run needs at least one scenario file")
	}
	a, err := c.open(ctx, *configPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close()) }()

	loader := scenario.Loader{Codes: builtinCodes()}
	var scenarios []scenario.Scenario
	for _, path := range fs.Args() {
		loaded, err := loader.LoadFile(path)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, loaded...)
	}
	snap, err := a.capture(ctx, *height)
	if err != nil {
		return err
	}
	reports := a.runner().RunAll(ctx, snap, scenarios)

	failed := 0
	for _, report := range reports {
		if !report.Passed() {
			failed++
		}
		if *record {
			if err := c.recordRun(ctx, a, report); err != nil {
				return err
			}
		}
		if !*asJSON {
			c.printSummary(report)
		}
	}
	if *asJSON {
		if err := c.printJSON(reports); err != nil {
			return err
		}
	}
	if err := a.store.Flush(snap); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(reports))
	}
	return nil
}

func (c cli) recordRun(ctx context.Context, a *app, report *scenario.Report) error {
	history, err := a.openHistory()
	if err != nil {
		return err
	}
	verdict, err := history.CheckDeterminism(ctx, report)
	if err != nil {
		return err
	}
	if !verdict.Consistent() {
		fmt.Fprintf(c.stdout, "DIVERGED %s: previous run %s (status=%t root=%t events=%t)\n",
			report.Scenario, verdict.Previous.ID, verdict.StatusChanged, verdict.StateRootChanged, verdict.EventsChanged)
	}
	_, err = history.Save(ctx, report)
	return err
}

func (c cli) printSummary(report *scenario.Report) {
	if report.Passed() {
		fmt.Fprintf(c.stdout, "PASS %s run=%s root=%s (%s)\n", report.Scenario, report.RunID, report.StateRoot.Hex(), report.Duration)
		return
	}
	fmt.Fprintf(c.stdout, "FAIL %s run=%s step=%d: %s\n", report.Scenario, report.RunID, report.FailedStep, report.Error)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
