package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "load":
		runLoad(args)
	case "run":
		runBenchmark(args)
	case "verify":
		runVerify(args)
	case "version":
		fmt.Printf("bench version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bench - coordinator load and consistency tool

Usage:
  bench <command> [options]

Commands:
  load      Seed records through the coordinator API
  run       Run a mixed workload against the coordinator API
  verify    Check master/slave consistency over direct connections
  version   Print version
  help      Show this help

Load Options:
  --api       Coordinator base URL (default: http://127.0.0.1:8090)
  --records   Number of records to create (default: 10000)
  --threads   Concurrent workers (default: 10)

Run Options:
  --api       Coordinator base URL (default: http://127.0.0.1:8090)
  --duration  Workload duration (default: 60s)
  --threads   Concurrent workers (default: 10)
  --read      Read percentage (default: 60)
  --create    Create percentage (default: 20)
  --update    Update percentage (default: 15)
  --search    Search percentage (default: 5)

Verify Options:
  --hosts     master,slave1,slave2 host:port list (default: 127.0.0.1:3306,127.0.0.1:3307,127.0.0.1:3308)
  --database  Database name (default: relica)
  --user      MySQL user (default: root)
  --password  MySQL password
  --samples   Rows to sample from master (default: 100)
  --timeout   Per-query timeout (default: 5s)`)
}

// Countries across both partitions so every run exercises both slaves.
var countries = []string{
	"Australia", "Brazil", "Canada", "Denmark", "Egypt", "France", "Germany",
	"India", "Japan", "Kenya", "Luxembourg",
	"Mexico", "Norway", "Peru", "Qatar", "Russia", "Spain", "Turkey",
	"Uruguay", "Vietnam", "Zimbabwe",
}

var cities = []string{"Springfield", "Riverton", "Lakeside", "Hillcrest", "Fairview", "Oakdale"}

func randomPayload(rng *rand.Rand) recordPayload {
	return recordPayload{
		FirstName: fmt.Sprintf("user%06d", rng.Intn(1000000)),
		LastName:  fmt.Sprintf("name%06d", rng.Intn(1000000)),
		City:      cities[rng.Intn(len(cities))],
		Country:   countries[rng.Intn(len(countries))],
	}
}

func runLoad(args []string) {
	conf := &Config{ReadPct: 60, CreatePct: 20, UpdatePct: 15, SearchPct: 5}
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	fs.StringVar(&conf.APIURL, "api", "http://127.0.0.1:8090", "coordinator base URL")
	fs.IntVar(&conf.Records, "records", 10000, "records to create")
	fs.IntVar(&conf.Threads, "threads", 10, "concurrent workers")
	fs.Parse(args)

	if err := conf.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid options: %v\n", err)
		os.Exit(1)
	}

	client := newAPIClient(conf.APIURL, 30*time.Second)
	stats := NewStats()

	ctx, cancel := signalContext()
	defer cancel()
	go reportProgress(ctx, stats)

	fmt.Printf("Loading %d records via %s with %d workers\n", conf.Records, conf.APIURL, conf.Threads)
	start := time.Now()

	var remaining atomic.Int64
	remaining.Store(int64(conf.Records))

	var wg sync.WaitGroup
	for w := 0; w < conf.Threads; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for remaining.Add(-1) >= 0 && ctx.Err() == nil {
				opStart := time.Now()
				result, err := client.Create(randomPayload(rng))
				if err != nil {
					stats.RecordError()
					continue
				}
				stats.RecordOp(OpCreate, time.Since(opStart))
				if result.Degraded() {
					stats.RecordDegraded()
				}
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	cancel()
	stats.PrintFinal(time.Since(start))
}

func runBenchmark(args []string) {
	conf := &Config{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&conf.APIURL, "api", "http://127.0.0.1:8090", "coordinator base URL")
	fs.DurationVar(&conf.Duration, "duration", 60*time.Second, "workload duration")
	fs.IntVar(&conf.Threads, "threads", 10, "concurrent workers")
	fs.IntVar(&conf.ReadPct, "read", 60, "read percentage")
	fs.IntVar(&conf.CreatePct, "create", 20, "create percentage")
	fs.IntVar(&conf.UpdatePct, "update", 15, "update percentage")
	fs.IntVar(&conf.SearchPct, "search", 5, "search percentage")
	fs.Parse(args)

	if err := conf.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid options: %v\n", err)
		os.Exit(1)
	}

	client := newAPIClient(conf.APIURL, 30*time.Second)
	stats := NewStats()

	ctx, cancel := signalContext()
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, conf.Duration)
	defer timeoutCancel()

	go reportProgress(ctx, stats)

	fmt.Printf("Running %v workload against %s with %d workers (read=%d%% create=%d%% update=%d%% search=%d%%)\n",
		conf.Duration, conf.APIURL, conf.Threads, conf.ReadPct, conf.CreatePct, conf.UpdatePct, conf.SearchPct)
	start := time.Now()

	// Known ids shared across workers so reads and updates hit real rows.
	var ids knownIDs

	var wg sync.WaitGroup
	for w := 0; w < conf.Threads; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				runOne(client, stats, conf, rng, &ids)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	stats.PrintFinal(time.Since(start))
}

func runOne(client *apiClient, stats *Stats, conf *Config, rng *rand.Rand, ids *knownIDs) {
	roll := rng.Intn(100)
	opStart := time.Now()

	switch {
	case roll < conf.ReadPct:
		id, ok := ids.Random(rng)
		if !ok {
			return
		}
		if err := client.Get(id); err != nil {
			stats.RecordError()
			return
		}
		stats.RecordOp(OpRead, time.Since(opStart))

	case roll < conf.ReadPct+conf.CreatePct:
		result, err := client.Create(randomPayload(rng))
		if err != nil {
			stats.RecordError()
			return
		}
		ids.Add(result.User.ID)
		stats.RecordOp(OpCreate, time.Since(opStart))
		if result.Degraded() {
			stats.RecordDegraded()
		}

	case roll < conf.ReadPct+conf.CreatePct+conf.UpdatePct:
		id, ok := ids.Random(rng)
		if !ok {
			return
		}
		result, err := client.Update(id, cities[rng.Intn(len(cities))])
		if err != nil {
			stats.RecordError()
			return
		}
		stats.RecordOp(OpUpdate, time.Since(opStart))
		if result.Degraded() {
			stats.RecordDegraded()
		}

	default:
		if err := client.Search(countries[rng.Intn(len(countries))], 50); err != nil {
			stats.RecordError()
			return
		}
		stats.RecordOp(OpSearch, time.Since(opStart))
	}
}

// knownIDs is the shared set of ids created during the run.
type knownIDs struct {
	mu  sync.RWMutex
	ids []int64
}

func (k *knownIDs) Add(id int64) {
	k.mu.Lock()
	k.ids = append(k.ids, id)
	k.mu.Unlock()
}

func (k *knownIDs) Random(rng *rand.Rand) (int64, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if len(k.ids) == 0 {
		return 0, false
	}
	return k.ids[rng.Intn(len(k.ids))], true
}

func runVerify(args []string) {
	conf := &Config{}
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.StringVar(&conf.Hosts, "hosts", "127.0.0.1:3306,127.0.0.1:3307,127.0.0.1:3308", "master,slave1,slave2 host:port list")
	fs.StringVar(&conf.Database, "database", "relica", "database name")
	fs.StringVar(&conf.User, "user", "root", "mysql user")
	fs.StringVar(&conf.Password, "password", "", "mysql password")
	fs.IntVar(&conf.Samples, "samples", 100, "rows to sample from master")
	fs.DurationVar(&conf.Timeout, "timeout", 5*time.Second, "per-query timeout")
	fs.Parse(args)

	if err := conf.ValidateVerify(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid options: %v\n", err)
		os.Exit(1)
	}

	verifier, err := NewVerifier(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer verifier.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := verifier.Verify(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
		os.Exit(1)
	}
	result.PrintResult()

	if result.MismatchedRows > 0 || result.MisplacedRows > 0 {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
